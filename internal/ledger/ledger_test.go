package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// fakeKV records every batch it receives so tests can assert on write
// minimality.
type fakeKV struct {
	data       map[string][]byte
	putCalls   int
	delCalls   int
	lastPut    map[string][]byte
	lastDelete []string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) List(ctx context.Context, actorID string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out, nil
}

func (f *fakeKV) Put(ctx context.Context, actorID string, entries map[string][]byte) error {
	f.putCalls++
	f.lastPut = entries
	for k, v := range entries {
		f.data[k] = v
	}
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, actorID string, keys []string) error {
	f.delCalls++
	f.lastDelete = keys
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func testPosition(id string) *domain.Position {
	return &domain.Position{
		ID:      id,
		OwnerID: 7,
		Pair: domain.TokenPair{
			Base:  domain.Token{Mint: "BaseMint1111", Symbol: "WEN", Decimals: 9},
			Quote: domain.Token{Mint: "QuoteMint111", Symbol: "SOL", Decimals: 9},
		},
		QuoteAmountIn:   domain.MustAmount("1500000000", 9),
		BaseAmountOut:   domain.MustAmount("42000000000", 9),
		FillPrice:       domain.MustAmount("100000000", 6),
		PeakPrice:       domain.MustAmount("100000000", 6),
		CurrentPrice:    domain.MustAmount("100000000", 6),
		TriggerPercent:  5,
		SlippagePercent: 2,
		Status:          domain.PositionStatusOpen,
		BuyConfirmed:    true,
		BuySignature:    "sig-" + id,
		BuyExpiryHeight: 1000,
		OpenedAt:        time.Unix(1700000000, 0).UTC(),
	}
}

func TestFlushWritesOnlyAdditions(t *testing.T) {
	l := New("pos")
	kv := newFakeKV()

	l.Upsert(testPosition("a"))
	l.Upsert(testPosition("b"))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	assert.Equal(t, 1, kv.putCalls)
	assert.Equal(t, 0, kv.delCalls)
	assert.Len(t, kv.lastPut, 2)
	assert.Contains(t, kv.lastPut, "pos:a")
}

func TestFlushIsIdempotent(t *testing.T) {
	l := New("pos")
	kv := newFakeKV()

	l.Upsert(testPosition("a"))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	// Second flush with no intervening mutation issues zero writes.
	assert.Equal(t, 1, kv.putCalls)
	assert.Equal(t, 0, kv.delCalls)
}

func TestFlushWritesOnlyChangedRecords(t *testing.T) {
	l := New("pos")
	kv := newFakeKV()

	l.Upsert(testPosition("a"))
	l.Upsert(testPosition("b"))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	require.NoError(t, l.Mutate("b", func(p *domain.Position) {
		p.CurrentPrice = domain.MustAmount("99000000", 6)
	}))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	assert.Equal(t, 2, kv.putCalls)
	assert.Len(t, kv.lastPut, 1)
	assert.Contains(t, kv.lastPut, "pos:b")
}

func TestFlushIssuesBatchedDeletes(t *testing.T) {
	l := New("pos")
	kv := newFakeKV()

	l.Upsert(testPosition("a"))
	l.Upsert(testPosition("b"))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	l.Delete("a")
	l.Delete("b")
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	assert.Equal(t, 1, kv.delCalls)
	assert.ElementsMatch(t, []string{"pos:a", "pos:b"}, kv.lastDelete)
	assert.Empty(t, kv.data)
}

func TestLoadSeedsSnapshot(t *testing.T) {
	kv := newFakeKV()
	p := testPosition("a")
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	kv.data["pos:a"] = raw
	kv.data["unrelated:z"] = []byte(`{"x":1}`)

	l := New("pos")
	entries, err := kv.List(context.Background(), "pair-1")
	require.NoError(t, err)
	require.NoError(t, l.Load(entries))

	got, ok := l.Get("a")
	require.True(t, ok)
	assert.True(t, got.Equals(p))
	assert.Equal(t, 1, l.Len())

	// Fresh load must not write anything back.
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))
	assert.Equal(t, 0, kv.putCalls)
	assert.Equal(t, 0, kv.delCalls)
}

func TestBeginSellGuards(t *testing.T) {
	l := New("pos")
	l.Upsert(testPosition("a"))

	p, err := l.BeginSell("a", "sell-sig", 2000)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosing, p.Status)
	assert.Equal(t, "sell-sig", p.SellSignature)

	// Re-entrant sell is rejected by the ledger, not the caller.
	_, err = l.BeginSell("a", "sell-sig-2", 2001)
	assert.ErrorIs(t, err, domain.ErrSellInFlight)

	_, err = l.BeginSell("missing", "x", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	unconfirmed := testPosition("b")
	unconfirmed.BuyConfirmed = false
	l.Upsert(unconfirmed)
	_, err = l.BeginSell("b", "x", 0)
	assert.ErrorIs(t, err, domain.ErrBuyUnconfirmed)
}

func TestMutateMarksDirtyViaDiff(t *testing.T) {
	l := New("pos")
	kv := newFakeKV()
	l.Upsert(testPosition("a"))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))

	// A mutation that restores identical state stays clean.
	require.NoError(t, l.Mutate("a", func(p *domain.Position) {
		p.CurrentPrice = domain.MustAmount("100000000", 6)
	}))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))
	assert.Equal(t, 1, kv.putCalls)

	// A rescale of an amount is a representation change and counts dirty.
	require.NoError(t, l.Mutate("a", func(p *domain.Position) {
		p.CurrentPrice = p.CurrentPrice.Rescale(9)
	}))
	require.NoError(t, l.Flush(context.Background(), kv, "pair-1"))
	assert.Equal(t, 2, kv.putCalls)
}
