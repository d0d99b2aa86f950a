package tracker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/notify"
)

type fakeKV struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (f *fakeKV) List(ctx context.Context, actorID string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.entries))
	for k, v := range f.entries {
		out[k] = v
	}
	return out, nil
}

func (f *fakeKV) Put(ctx context.Context, actorID string, entries map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string][]byte)
	}
	for k, v := range entries {
		f.entries[k] = v
	}
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, actorID string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.entries, k)
	}
	return nil
}

type fakeClosed struct {
	mu       sync.Mutex
	inserted []domain.Position
}

func (f *fakeClosed) Insert(ctx context.Context, p domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, p)
	return nil
}

func (f *fakeClosed) ListByOwner(ctx context.Context, ownerID int64, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakeClosed) ListAllSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	return nil, nil
}

type sellRecorder struct {
	calls chan domain.Position
}

func newSellRecorder() *sellRecorder {
	return &sellRecorder{calls: make(chan domain.Position, 16)}
}

func (r *sellRecorder) fn(ctx context.Context, pos domain.Position) {
	r.calls <- pos
}

func testPair() domain.TokenPair {
	return domain.TokenPair{
		Base:  domain.Token{Mint: "BaseMint1111", Symbol: "WEN", Decimals: 6},
		Quote: domain.Token{Mint: domain.NativeMint, Symbol: "SOL", Decimals: 9},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotifier() *notify.Notifier {
	return notify.NewNotifier(nil, nil, testLogger())
}

func openPosition(id string, price string, trigger float64) *domain.Position {
	p := domain.MustAmount(price, 0)
	return &domain.Position{
		ID:              id,
		OwnerID:         1,
		Pair:            testPair(),
		QuoteAmountIn:   domain.MustAmount("1000000000", 9),
		BaseAmountOut:   domain.MustAmount("5000000", 6),
		FillPrice:       p,
		PeakPrice:       p,
		CurrentPrice:    p,
		TriggerPercent:  trigger,
		SlippagePercent: 2,
		Status:          domain.PositionStatusOpen,
		BuyConfirmed:    true,
		OpenedAt:        time.Now().UTC(),
	}
}

func startActor(t *testing.T, kv *fakeKV, closed *fakeClosed, sell SellFunc) *PairActor {
	t.Helper()
	cfg := Config{FlushInterval: time.Hour, MaxOtherSellFailures: 3, MaxSlippagePercent: 100}
	a := NewPairActor(testPair(), cfg, kv, closed, nil, testNotifier(), sell, testLogger())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func price(s string) domain.Amount {
	a, err := domain.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestTriggerFiresOnceAtThreshold(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	a := startActor(t, &fakeKV{}, &fakeClosed{}, rec.fn)

	require.NoError(t, a.UpsertPosition(ctx, openPosition("p1", "100", 5)))

	// A 2% drop does not fire.
	require.NoError(t, a.UpdatePrice(ctx, price("98"), time.Now()))
	select {
	case <-rec.calls:
		t.Fatal("sell fired below trigger")
	case <-time.After(50 * time.Millisecond):
	}

	// A 6% drop fires exactly once.
	require.NoError(t, a.UpdatePrice(ctx, price("94"), time.Now()))
	select {
	case pos := <-rec.calls:
		assert.Equal(t, "p1", pos.ID)
		assert.Equal(t, domain.PositionStatusClosing, pos.Status)
	case <-time.After(time.Second):
		t.Fatal("sell never fired")
	}

	// Further ticks do not refire while the sell is in flight.
	require.NoError(t, a.UpdatePrice(ctx, price("90"), time.Now()))
	select {
	case <-rec.calls:
		t.Fatal("sell fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeakRatchetsUpBeforeMeasuringDrop(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	a := startActor(t, &fakeKV{}, &fakeClosed{}, rec.fn)

	require.NoError(t, a.UpsertPosition(ctx, openPosition("p1", "100", 5)))

	// Price rises: peak follows, no trigger.
	require.NoError(t, a.UpdatePrice(ctx, price("110"), time.Now()))
	p, err := a.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.PeakPrice.Cmp(price("110")))

	// 104.5 is 5% below the new peak of 110, not the fill price of 100.
	require.NoError(t, a.UpdatePrice(ctx, price("104.5"), time.Now()))
	select {
	case pos := <-rec.calls:
		assert.Equal(t, "p1", pos.ID)
	case <-time.After(time.Second):
		t.Fatal("sell never fired after peak ratchet")
	}
}

func TestUnconfirmedBuyNeverTriggers(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	a := startActor(t, &fakeKV{}, &fakeClosed{}, rec.fn)

	pos := openPosition("p1", "100", 5)
	pos.BuyConfirmed = false
	require.NoError(t, a.UpsertPosition(ctx, pos))

	require.NoError(t, a.UpdatePrice(ctx, price("50"), time.Now()))
	select {
	case <-rec.calls:
		t.Fatal("unconfirmed position fired")
	case <-time.After(50 * time.Millisecond):
	}

	// Once the buy confirms it becomes triggerable.
	require.NoError(t, a.ConfirmBuy(ctx, "p1", &domain.SwapSummary{
		InAmount:  domain.MustAmount("1000000000", 9),
		OutAmount: domain.MustAmount("5000000", 6),
		FillPrice: price("100"),
	}))
	require.NoError(t, a.UpdatePrice(ctx, price("94"), time.Now()))
	select {
	case <-rec.calls:
	case <-time.After(time.Second):
		t.Fatal("confirmed position never fired")
	}
}

func TestSellFailureSlippageDoublingAndCap(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	a := startActor(t, &fakeKV{}, &fakeClosed{}, rec.fn)

	pos := openPosition("p1", "100", 5)
	pos.AutoDoubleSlippage = true
	pos.SlippagePercent = 30
	require.NoError(t, a.UpsertPosition(ctx, pos))
	require.NoError(t, a.UpdatePrice(ctx, price("94"), time.Now()))
	<-rec.calls

	require.NoError(t, a.MarkSellFailed(ctx, "p1", domain.OutcomeFailedSlippage))
	p, err := a.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, p.Status)
	assert.Equal(t, float64(60), p.SlippagePercent)
	assert.False(t, p.SellSuspended)

	// The doubling is capped.
	require.NoError(t, a.UpdatePrice(ctx, price("93"), time.Now()))
	<-rec.calls
	require.NoError(t, a.MarkSellFailed(ctx, "p1", domain.OutcomeFailedSlippage))
	p, err = a.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), p.SlippagePercent)
}

func TestRepeatedOtherFailuresSuspendSelling(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	a := startActor(t, &fakeKV{}, &fakeClosed{}, rec.fn)

	require.NoError(t, a.UpsertPosition(ctx, openPosition("p1", "100", 5)))

	for i := 0; i < 3; i++ {
		require.NoError(t, a.UpdatePrice(ctx, price("94"), time.Now()))
		select {
		case <-rec.calls:
		case <-time.After(time.Second):
			t.Fatalf("sell %d never fired", i+1)
		}
		require.NoError(t, a.MarkSellFailed(ctx, "p1", domain.OutcomeFailed))
	}

	p, err := a.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.SellSuspended)
	assert.Equal(t, 3, p.OtherSellFailureCount)

	// Suspended positions no longer fire.
	require.NoError(t, a.UpdatePrice(ctx, price("10"), time.Now()))
	select {
	case <-rec.calls:
		t.Fatal("suspended position fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseConfirmedRecordsPnLAndMovesPosition(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	closed := &fakeClosed{}
	kv := &fakeKV{}
	a := startActor(t, kv, closed, rec.fn)

	require.NoError(t, a.UpsertPosition(ctx, openPosition("p1", "100", 5)))
	require.NoError(t, a.UpdatePrice(ctx, price("94"), time.Now()))
	<-rec.calls

	require.NoError(t, a.AttachSellAttempt(ctx, "p1", "sig1", 500))
	require.NoError(t, a.CloseConfirmed(ctx, "p1", &domain.SwapSummary{
		InMint:    "BaseMint1111",
		InAmount:  domain.MustAmount("5000000", 6),
		OutMint:   domain.NativeMint,
		OutAmount: domain.MustAmount("1200000000", 9),
		FillPrice: price("0.00024"),
	}))

	_, err := a.Get(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	closed.mu.Lock()
	defer closed.mu.Unlock()
	require.Len(t, closed.inserted, 1)
	got := closed.inserted[0]
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	require.NotNil(t, got.NetPnL)
	// Received 1.2 quote for 1.0 paid.
	assert.Equal(t, 0, got.NetPnL.Cmp(domain.MustAmount("200000000", 9)))
	require.NotNil(t, got.SellConfirmed)
	assert.True(t, *got.SellConfirmed)
}

func TestCloseConfirmedRejectsMissingSummary(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	closed := &fakeClosed{}
	a := startActor(t, &fakeKV{}, closed, rec.fn)

	require.NoError(t, a.UpsertPosition(ctx, openPosition("p1", "100", 5)))
	require.NoError(t, a.UpdatePrice(ctx, price("94"), time.Now()))
	<-rec.calls
	require.NoError(t, a.AttachSellAttempt(ctx, "p1", "sig1", 500))

	err := a.CloseConfirmed(ctx, "p1", nil)
	assert.ErrorIs(t, err, domain.ErrNoSummary)

	// The position stays pending for the re-confirmation pass and
	// never reaches the closed store without its realized PnL.
	p, getErr := a.Get(ctx, "p1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.PositionStatusClosing, p.Status)
	assert.Nil(t, p.NetPnL)

	closed.mu.Lock()
	defer closed.mu.Unlock()
	assert.Empty(t, closed.inserted)
}

func TestConfirmBuyRejectsMissingSummary(t *testing.T) {
	ctx := context.Background()
	rec := newSellRecorder()
	a := startActor(t, &fakeKV{}, &fakeClosed{}, rec.fn)

	pos := openPosition("p1", "100", 5)
	pos.BuyConfirmed = false
	pos.PeakPrice = domain.ZeroAmount()
	pos.FillPrice = domain.ZeroAmount()
	require.NoError(t, a.UpsertPosition(ctx, pos))

	err := a.ConfirmBuy(ctx, "p1", nil)
	assert.ErrorIs(t, err, domain.ErrNoSummary)

	// Without the fill there is no peak to seed, so the position must
	// not become triggerable.
	p, getErr := a.Get(ctx, "p1")
	require.NoError(t, getErr)
	assert.False(t, p.BuyConfirmed)
	assert.False(t, p.Triggerable())
}

func TestRestartRebuildsIndexFromLedger(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{}
	rec := newSellRecorder()

	a := startActor(t, kv, &fakeClosed{}, rec.fn)
	require.NoError(t, a.UpsertPosition(ctx, openPosition("p1", "100", 5)))
	require.NoError(t, a.UpdatePrice(ctx, price("110"), time.Now()))
	require.NoError(t, a.Stop(ctx))

	// A fresh actor over the same storage sees the ratcheted peak.
	rec2 := newSellRecorder()
	cfg := Config{FlushInterval: time.Hour}
	b := NewPairActor(testPair(), cfg, kv, &fakeClosed{}, nil, testNotifier(), rec2.fn, testLogger())
	require.NoError(t, b.Start(ctx))
	defer func() { _ = b.Stop(ctx) }()

	p, err := b.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.PeakPrice.Cmp(price("110")))

	require.NoError(t, b.UpdatePrice(ctx, price("104.5"), time.Now()))
	select {
	case <-rec2.calls:
	case <-time.After(time.Second):
		t.Fatal("rebuilt index never fired")
	}
}
