package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/tracker"
)

func seedOpenPosition(t *testing.T, registry *tracker.Registry, id string) *tracker.PairActor {
	t.Helper()
	ctx := context.Background()
	actor, err := registry.GetOrStart(ctx, testPair())
	require.NoError(t, err)
	pos := &domain.Position{
		ID:                 id,
		OwnerID:            7,
		Pair:               testPair(),
		QuoteAmountIn:      price("1.5"),
		BaseAmountOut:      price("10"),
		FillPrice:          price("0.15"),
		PeakPrice:          price("0.15"),
		CurrentPrice:       price("0.15"),
		TriggerPercent:     5,
		SlippagePercent:    2,
		AutoDoubleSlippage: true,
		Status:             domain.PositionStatusOpen,
		BuyConfirmed:       true,
		OpenedAt:           time.Now().UTC(),
	}
	require.NoError(t, actor.UpsertPosition(ctx, pos))
	return actor
}

func TestSellNowConfirmedRecordsPnLAndCloses(t *testing.T) {
	ctx := context.Background()
	registry, closed := testRegistry(t)
	actor := seedOpenPosition(t, registry, "p1")

	settler := &fakeSettler{results: []domain.SettleResult{{
		Outcome: domain.OutcomeConfirmed,
		Summary: &domain.SwapSummary{
			InMint:    testPair().Base.Mint,
			InAmount:  price("10"),
			OutMint:   testPair().Quote.Mint,
			OutAmount: price("1.7"),
			FillPrice: price("0.17"),
		},
	}}}
	seller := NewSeller(&fakeQuoter{lastValid: 900}, fakeSigner{}, settler, registry, testLogger())

	require.NoError(t, seller.SellNow(ctx, testPair(), "p1"))

	_, err := actor.Get(ctx, "p1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, closed.inserted, 1)
	require.NotNil(t, closed.inserted[0].NetPnL)
	require.Equal(t, "0.2", closed.inserted[0].NetPnL.String())

	// Sell leg quotes the full base holding at the base token's scale.
	attempts := settler.seen()
	require.Len(t, attempts, 1)
	require.Equal(t, testPair().Base.Mint, attempts[0].InMint)
	require.Equal(t, uint64(900), attempts[0].LastValidHeight)
}

func TestSellSlippageFailureDoublesToleranceAndReopens(t *testing.T) {
	ctx := context.Background()
	registry, closed := testRegistry(t)
	actor := seedOpenPosition(t, registry, "p1")

	settler := &fakeSettler{results: []domain.SettleResult{{Outcome: domain.OutcomeFailedSlippage}}}
	seller := NewSeller(&fakeQuoter{}, fakeSigner{}, settler, registry, testLogger())

	require.NoError(t, seller.SellNow(ctx, testPair(), "p1"))

	pos, err := actor.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.Equal(t, 4.0, pos.SlippagePercent)
	require.Nil(t, pos.NetPnL)
	require.Empty(t, pos.SellSignature)
	require.Empty(t, closed.inserted)
}

func TestSellNowRejectsSecondAttemptWhileClosing(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	actor := seedOpenPosition(t, registry, "p1")

	// A sell is already in flight: the attempt ended unconfirmed and
	// the position is waiting on the re-confirmation pass.
	settler := &fakeSettler{results: []domain.SettleResult{{Outcome: domain.OutcomeUnconfirmed}}}
	seller := NewSeller(&fakeQuoter{lastValid: 900}, fakeSigner{}, settler, registry, testLogger())
	require.NoError(t, seller.SellNow(ctx, testPair(), "p1"))

	pos, err := actor.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusClosing, pos.Status)
	require.Equal(t, "sig-test", pos.SellSignature)

	err = seller.SellNow(ctx, testPair(), "p1")
	require.ErrorIs(t, err, domain.ErrSellInFlight)
}

func TestSellQuoteFailureReopensWithoutCountingFailure(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	actor := seedOpenPosition(t, registry, "p1")

	settler := &fakeSettler{}
	seller := NewSeller(&fakeQuoter{quoteErr: domain.ErrNoRoute}, fakeSigner{}, settler, registry, testLogger())

	require.NoError(t, seller.SellNow(ctx, testPair(), "p1"))

	pos, err := actor.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PositionStatusOpen, pos.Status)
	require.Zero(t, pos.OtherSellFailureCount)
	require.False(t, pos.SellSuspended)
	require.Empty(t, settler.seen())
}
