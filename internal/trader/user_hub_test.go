package trader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

func TestUserHubOpenPositionDelegates(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	settler := &fakeSettler{results: []domain.SettleResult{confirmedBuy("1.5", "10", "0.15")}}
	buyer := NewBuyer(&fakeQuoter{lastValid: 500}, fakeSigner{}, settler, registry, nil, testLogger())
	seller := NewSeller(&fakeQuoter{}, fakeSigner{}, settler, registry, testLogger())
	hub := NewUserHub(buyer, seller)

	pos, err := hub.OpenPosition(ctx, openRequest())
	require.NoError(t, err)
	require.True(t, pos.BuyConfirmed)
}

func TestUserHubRejectsCancelledContext(t *testing.T) {
	registry, _ := testRegistry(t)
	buyer := NewBuyer(&fakeQuoter{}, fakeSigner{}, &fakeSettler{}, registry, nil, testLogger())
	hub := NewUserHub(buyer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hub.OpenPosition(ctx, openRequest())
	require.ErrorIs(t, err, domain.ErrContextDone)
}
