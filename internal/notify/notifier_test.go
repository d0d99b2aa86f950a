package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recorder" }

func notifierLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func failedPosition() *domain.Position {
	return &domain.Position{
		ID: "p1",
		Pair: domain.TokenPair{
			Base:  domain.Token{Mint: "BaseMint1111", Symbol: "WEN", Decimals: 6},
			Quote: domain.Token{Mint: domain.NativeMint, Symbol: "SOL", Decimals: 9},
		},
		SlippagePercent: 4,
		Status:          domain.PositionStatusOpen,
	}
}

func TestSellFailedReachesSenders(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, notifierLogger())

	n.SellFailed(context.Background(), failedPosition(), domain.OutcomeFailedFrozenAccount.String())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.titles, 1)
	assert.Contains(t, rec.titles[0], "Sell failed")
}

func TestSellFailedHonorsEventFilter(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{EventPositionClosed}, notifierLogger())

	n.SellFailed(context.Background(), failedPosition(), domain.OutcomeFailed.String())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.titles)
}
