// Package peakindex maintains the price-bucketed index of open
// positions used for trigger detection. Positions are grouped into
// buckets keyed by their exact peak price (mantissa~scale key, never
// float-compared); a reverse index from position ID to (bucket, slot)
// makes insert, relocate, and remove O(1) without scanning buckets.
//
// Each bucket's slot sequence is an arena: removal leaves a hole that is
// recorded on a free list and reused by the next insert, so slot indices
// of surviving entries stay stable.
package peakindex

import (
	"fmt"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

type slotRef struct {
	key  string
	slot int
}

type bucket struct {
	price domain.Amount
	ids   []string // "" marks a reusable hole
	free  []int
}

func (b *bucket) insert(id string) int {
	if n := len(b.free); n > 0 {
		slot := b.free[n-1]
		b.free = b.free[:n-1]
		b.ids[slot] = id
		return slot
	}
	b.ids = append(b.ids, id)
	return len(b.ids) - 1
}

func (b *bucket) remove(slot int) {
	b.ids[slot] = ""
	b.free = append(b.free, slot)
}

func (b *bucket) live() int {
	return len(b.ids) - len(b.free)
}

// Index is the peak-price position index. It is owned by a single
// tracker actor and carries no locks; both internal structures are
// mutated together so the reverse-index invariant holds between any two
// operations.
type Index struct {
	buckets map[string]*bucket
	refs    map[string]slotRef
}

// New returns an empty index.
func New() *Index {
	return &Index{
		buckets: make(map[string]*bucket),
		refs:    make(map[string]slotRef),
	}
}

// Len returns the number of indexed positions.
func (ix *Index) Len() int {
	return len(ix.refs)
}

// Contains reports whether the position is indexed.
func (ix *Index) Contains(id string) bool {
	_, ok := ix.refs[id]
	return ok
}

// PeakOf returns the peak price bucket the position currently sits in.
func (ix *Index) PeakOf(id string) (domain.Amount, bool) {
	ref, ok := ix.refs[id]
	if !ok {
		return domain.Amount{}, false
	}
	return ix.buckets[ref.key].price, true
}

// Insert adds a position under the given peak price. Inserting an ID
// that is already indexed is a caller bug and returns ErrAlreadyExists.
func (ix *Index) Insert(peak domain.Amount, id string) error {
	if _, ok := ix.refs[id]; ok {
		return fmt.Errorf("peakindex: position %s: %w", id, domain.ErrAlreadyExists)
	}
	b := ix.bucketFor(peak)
	ix.refs[id] = slotRef{key: peak.Key(), slot: b.insert(id)}
	return nil
}

// Remove deletes a position from its bucket and the reverse index,
// atomically with respect to other index operations. It reports whether
// the position was present.
func (ix *Index) Remove(id string) bool {
	ref, ok := ix.refs[id]
	if !ok {
		return false
	}
	b := ix.buckets[ref.key]
	b.remove(ref.slot)
	if b.live() == 0 {
		delete(ix.buckets, ref.key)
	}
	delete(ix.refs, id)
	return true
}

// Move relocates a position to the bucket keyed by newPeak in O(1) via
// the reverse index.
func (ix *Index) Move(id string, newPeak domain.Amount) error {
	ref, ok := ix.refs[id]
	if !ok {
		return fmt.Errorf("peakindex: position %s: %w", id, domain.ErrNotFound)
	}
	if ref.key == newPeak.Key() {
		return nil
	}
	if !ix.Remove(id) {
		return fmt.Errorf("peakindex: position %s: %w", id, domain.ErrNotFound)
	}
	return ix.Insert(newPeak, id)
}

// RaiseTo merges every bucket whose peak is strictly below newPrice into
// the bucket keyed by newPrice and returns the IDs that moved, meaning
// the positions whose peak price just rose. Buckets at or above newPrice are
// untouched.
func (ix *Index) RaiseTo(newPrice domain.Amount) []string {
	var staleKeys []string
	for key, b := range ix.buckets {
		if b.price.Cmp(newPrice) < 0 {
			staleKeys = append(staleKeys, key)
		}
	}

	var moved []string
	for _, key := range staleKeys {
		b := ix.buckets[key]
		for _, id := range b.ids {
			if id == "" {
				continue
			}
			moved = append(moved, id)
		}
		delete(ix.buckets, key)
	}
	for _, id := range moved {
		target := ix.bucketFor(newPrice)
		ix.refs[id] = slotRef{key: newPrice.Key(), slot: target.insert(id)}
	}
	return moved
}

// ForEach visits every indexed position with its bucket's peak price.
// Iteration order is unspecified. Returning false stops the walk. The
// callback must not mutate the index.
func (ix *Index) ForEach(fn func(peak domain.Amount, id string) bool) {
	for _, b := range ix.buckets {
		for _, id := range b.ids {
			if id == "" {
				continue
			}
			if !fn(b.price, id) {
				return
			}
		}
	}
}

// Validate checks the reverse-index invariant: for every indexed ID,
// refs[id] = (bucket, slot) with bucket.ids[slot] == id, and every live
// slot is referenced. Used by tests.
func (ix *Index) Validate() error {
	for id, ref := range ix.refs {
		b, ok := ix.buckets[ref.key]
		if !ok {
			return fmt.Errorf("peakindex: %s references missing bucket %s", id, ref.key)
		}
		if ref.slot < 0 || ref.slot >= len(b.ids) || b.ids[ref.slot] != id {
			return fmt.Errorf("peakindex: %s reverse ref does not land on itself", id)
		}
	}
	live := 0
	for key, b := range ix.buckets {
		if b.price.Key() != key {
			return fmt.Errorf("peakindex: bucket %s keyed under %s", b.price.Key(), key)
		}
		for slot, id := range b.ids {
			if id == "" {
				continue
			}
			live++
			ref, ok := ix.refs[id]
			if !ok || ref.key != key || ref.slot != slot {
				return fmt.Errorf("peakindex: slot %s[%d]=%s not referenced", key, slot, id)
			}
		}
	}
	if live != len(ix.refs) {
		return fmt.Errorf("peakindex: %d live slots vs %d refs", live, len(ix.refs))
	}
	return nil
}

func (ix *Index) bucketFor(price domain.Amount) *bucket {
	key := price.Key()
	b, ok := ix.buckets[key]
	if !ok {
		b = &bucket{price: price}
		ix.buckets[key] = b
	}
	return b
}
