package trader

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/notify"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/jupiter"
	"github.com/kyle-pena-nlp/bagzbot/internal/settlement"
	"github.com/kyle-pena-nlp/bagzbot/internal/tracker"
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

type fakeQuoter struct {
	mu        sync.Mutex
	quoteErr  error
	buildErr  error
	lastValid uint64
	quotes    []jupiter.QuoteRequest
}

func (f *fakeQuoter) GetQuote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = append(f.quotes, req)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &jupiter.Quote{
		InputMint:   req.InMint,
		InAmount:    req.Amount,
		OutputMint:  req.OutMint,
		SlippageBps: req.SlippageBps,
	}, nil
}

func (f *fakeQuoter) BuildSwapTransaction(ctx context.Context, quote *jupiter.Quote, userPublicKey string) (*jupiter.SwapTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &jupiter.SwapTransaction{RawTx: []byte("unsigned-tx"), LastValidBlockHeight: f.lastValid}, nil
}

func (f *fakeQuoter) quoteRequests() []jupiter.QuoteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jupiter.QuoteRequest(nil), f.quotes...)
}

type fakeSigner struct{}

func (fakeSigner) Address() string { return "OwnerAddr111" }

func (fakeSigner) SignTransaction(raw []byte) ([]byte, string, error) {
	return append([]byte("signed:"), raw...), "sig-test", nil
}

type fakeSettler struct {
	mu       sync.Mutex
	results  []domain.SettleResult
	attempts []settlement.Attempt
}

func (f *fakeSettler) next(attempt settlement.Attempt) domain.SettleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	if len(f.results) == 0 {
		return domain.SettleResult{Outcome: domain.OutcomeUnconfirmed, Signature: attempt.Signature}
	}
	r := f.results[0]
	f.results = f.results[1:]
	r.Signature = attempt.Signature
	return r
}

func (f *fakeSettler) Settle(ctx context.Context, attempt settlement.Attempt) domain.SettleResult {
	return f.next(attempt)
}

func (f *fakeSettler) Reconfirm(ctx context.Context, attempt settlement.Attempt) domain.SettleResult {
	return f.next(attempt)
}

func (f *fakeSettler) seen() []settlement.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settlement.Attempt(nil), f.attempts...)
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

func testRegistry(t *testing.T) (*tracker.Registry, *fakeClosed) {
	t.Helper()
	closed := &fakeClosed{}
	cfg := tracker.Config{FlushInterval: time.Hour, MaxOtherSellFailures: 3, MaxSlippagePercent: 100}
	r := tracker.NewRegistry(cfg, &fakeKV{}, closed, nil, notify.NewNotifier(nil, nil, testLogger()), testLogger())
	r.SetSellFunc(func(ctx context.Context, pos domain.Position) {})
	t.Cleanup(func() { r.StopAll(context.Background()) })
	return r, closed
}

func confirmedBuy(in, out, fill string) domain.SettleResult {
	return domain.SettleResult{
		Outcome: domain.OutcomeConfirmed,
		Summary: &domain.SwapSummary{
			InMint:    testPair().Quote.Mint,
			InAmount:  price(in),
			OutMint:   testPair().Base.Mint,
			OutAmount: price(out),
			FillPrice: price(fill),
		},
	}
}

func price(s string) domain.Amount {
	a, err := domain.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func openRequest() OpenRequest {
	return OpenRequest{
		OwnerID:         7,
		ChatID:          7,
		Pair:            testPair(),
		QuoteAmount:     price("1.5"),
		TriggerPercent:  5,
		SlippagePercent: 2,
	}
}

func TestOpenPositionConfirmedBuyArmsTrigger(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	quoter := &fakeQuoter{lastValid: 500}
	settler := &fakeSettler{results: []domain.SettleResult{confirmedBuy("1.5", "10", "0.15")}}
	buyer := NewBuyer(quoter, fakeSigner{}, settler, registry, nil, testLogger())

	pos, err := buyer.OpenPosition(ctx, openRequest())
	require.NoError(t, err)
	require.True(t, pos.BuyConfirmed)
	require.True(t, pos.Triggerable())
	require.Equal(t, "10", pos.BaseAmountOut.String())
	require.Equal(t, "0.15", pos.PeakPrice.String())

	// Quote leg: spend 1.5 SOL at 9 decimals, 2% slippage as 200 bps.
	reqs := quoter.quoteRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, "1500000000", reqs[0].Amount)
	require.Equal(t, 200, reqs[0].SlippageBps)

	attempts := settler.seen()
	require.Len(t, attempts, 1)
	require.Equal(t, uint64(500), attempts[0].LastValidHeight)
	require.Equal(t, "OwnerAddr111", attempts[0].Owner)
}

func TestOpenPositionDroppedBuyLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	settler := &fakeSettler{results: []domain.SettleResult{{Outcome: domain.OutcomeDropped}}}
	buyer := NewBuyer(&fakeQuoter{lastValid: 500}, fakeSigner{}, settler, registry, nil, testLogger())

	_, err := buyer.OpenPosition(ctx, openRequest())
	require.Error(t, err)

	actor := registry.Get(testPair().Key())
	require.NotNil(t, actor)
	all, err := actor.List(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestOpenPositionUnconfirmedBuyStaysRegistered(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	settler := &fakeSettler{results: []domain.SettleResult{{Outcome: domain.OutcomeUnconfirmed}}}
	buyer := NewBuyer(&fakeQuoter{lastValid: 500}, fakeSigner{}, settler, registry, nil, testLogger())

	pos, err := buyer.OpenPosition(ctx, openRequest())
	require.NoError(t, err)
	require.False(t, pos.BuyConfirmed)
	require.False(t, pos.Triggerable())
	require.Equal(t, "sig-test", pos.BuySignature)
	require.Equal(t, uint64(500), pos.BuyExpiryHeight)
}

func TestOpenPositionNoRouteFailsBeforeSigning(t *testing.T) {
	ctx := context.Background()
	registry, _ := testRegistry(t)
	settler := &fakeSettler{}
	quoter := &fakeQuoter{quoteErr: domain.ErrNoRoute}
	buyer := NewBuyer(quoter, fakeSigner{}, settler, registry, nil, testLogger())

	_, err := buyer.OpenPosition(ctx, openRequest())
	require.ErrorIs(t, err, domain.ErrNoRoute)
	require.Empty(t, settler.seen())
}
