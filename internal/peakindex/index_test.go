package peakindex

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

func price(mantissa string) domain.Amount {
	return domain.MustAmount(mantissa, 6)
}

func TestInsertRemoveMove(t *testing.T) {
	ix := New()

	require.NoError(t, ix.Insert(price("100000000"), "a"))
	require.NoError(t, ix.Insert(price("100000000"), "b"))
	require.NoError(t, ix.Insert(price("105000000"), "c"))
	assert.Equal(t, 3, ix.Len())

	err := ix.Insert(price("100000000"), "a")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	peak, ok := ix.PeakOf("a")
	require.True(t, ok)
	assert.Equal(t, 0, peak.Cmp(price("100000000")))

	require.NoError(t, ix.Move("a", price("110000000")))
	peak, _ = ix.PeakOf("a")
	assert.Equal(t, 0, peak.Cmp(price("110000000")))

	assert.True(t, ix.Remove("b"))
	assert.False(t, ix.Remove("b"))
	assert.Equal(t, 2, ix.Len())
	require.NoError(t, ix.Validate())
}

func TestSlotReuseAfterRemoval(t *testing.T) {
	ix := New()
	p := price("100000000")
	require.NoError(t, ix.Insert(p, "a"))
	require.NoError(t, ix.Insert(p, "b"))
	require.NoError(t, ix.Insert(p, "c"))

	// Removing the middle entry leaves a hole; the next insert fills it
	// instead of growing the arena.
	require.True(t, ix.Remove("b"))
	require.NoError(t, ix.Insert(p, "d"))

	b := ix.buckets[p.Key()]
	assert.Len(t, b.ids, 3)
	assert.Empty(t, b.free)
	require.NoError(t, ix.Validate())
}

func TestRaiseToMergesLowerBuckets(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert(price("95000000"), "a"))
	require.NoError(t, ix.Insert(price("98000000"), "b"))
	require.NoError(t, ix.Insert(price("104000000"), "c"))

	moved := ix.RaiseTo(price("101000000"))
	assert.ElementsMatch(t, []string{"a", "b"}, moved)

	for _, id := range []string{"a", "b"} {
		peak, ok := ix.PeakOf(id)
		require.True(t, ok)
		assert.Equal(t, 0, peak.Cmp(price("101000000")), "peak of %s", id)
	}
	// c sits above the tick and keeps its bucket.
	peak, _ := ix.PeakOf("c")
	assert.Equal(t, 0, peak.Cmp(price("104000000")))
	require.NoError(t, ix.Validate())

	// Equal price does not move: peak is monotonically non-decreasing
	// and a tick at the current peak is not a raise.
	assert.Empty(t, ix.RaiseTo(price("101000000")))
}

func TestReverseIndexInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ix := New()
	alive := map[string]bool{}
	nextID := 0

	randomPrice := func() domain.Amount {
		return price(fmt.Sprintf("%d", 90000000+rng.Intn(20)*1000000))
	}

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(alive) == 0:
			id := fmt.Sprintf("p%d", nextID)
			nextID++
			require.NoError(t, ix.Insert(randomPrice(), id))
			alive[id] = true
		case op == 1:
			id := anyKey(rng, alive)
			require.NoError(t, ix.Move(id, randomPrice()))
		case op == 2:
			id := anyKey(rng, alive)
			require.True(t, ix.Remove(id))
			delete(alive, id)
		default:
			ix.RaiseTo(randomPrice())
		}
		require.NoError(t, ix.Validate(), "after step %d", step)
	}
	assert.Equal(t, len(alive), ix.Len())
}

func anyKey(rng *rand.Rand, set map[string]bool) string {
	n := rng.Intn(len(set))
	for k := range set {
		if n == 0 {
			return k
		}
		n--
	}
	panic("unreachable")
}

func TestForEachVisitsLiveEntriesOnly(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert(price("100000000"), "a"))
	require.NoError(t, ix.Insert(price("100000000"), "b"))
	require.NoError(t, ix.Insert(price("101000000"), "c"))
	require.True(t, ix.Remove("b"))

	seen := map[string]bool{}
	ix.ForEach(func(peak domain.Amount, id string) bool {
		seen[id] = true
		return true
	})
	assert.Equal(t, map[string]bool{"a": true, "c": true}, seen)
}
