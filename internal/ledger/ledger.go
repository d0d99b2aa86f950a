// Package ledger implements the in-memory position ledger owned by each
// tracker actor, reconciled to durable storage by snapshot diffing: at
// flush time the current map is compared against the last-flushed
// snapshot and only additions, structural changes, and deletions are
// written, as one batched put and one batched delete.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// Ledger is a keyed store of positions with flush-time dirty tracking.
// It is owned by exactly one actor; all access is serialized by that
// actor's mailbox, so the ledger itself carries no locks.
type Ledger struct {
	prefix   string
	current  map[string]*domain.Position
	snapshot map[string]*domain.Position
}

// New creates an empty ledger whose persisted keys carry the given
// namespace prefix.
func New(prefix string) *Ledger {
	return &Ledger{
		prefix:   prefix,
		current:  make(map[string]*domain.Position),
		snapshot: make(map[string]*domain.Position),
	}
}

// Load populates the ledger from a bulk storage listing and seeds the
// snapshot so an immediate flush writes nothing. Entries outside the
// ledger's prefix are ignored; other components share the actor's
// keyspace.
func (l *Ledger) Load(entries map[string][]byte) error {
	for key, raw := range entries {
		id, ok := strings.CutPrefix(key, l.prefix+":")
		if !ok {
			continue
		}
		var p domain.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("ledger: decode entry %q: %w", key, err)
		}
		if p.ID != id {
			return fmt.Errorf("ledger: entry %q carries id %q", key, p.ID)
		}
		l.current[id] = &p
		l.snapshot[id] = p.Clone()
	}
	return nil
}

// Get returns the stored position. The returned pointer is the live
// record; callers outside the owning actor must not retain it.
func (l *Ledger) Get(id string) (*domain.Position, bool) {
	p, ok := l.current[id]
	return p, ok
}

// Upsert inserts or replaces a position.
func (l *Ledger) Upsert(p *domain.Position) {
	l.current[p.ID] = p
}

// Delete removes a position from the ledger. The deletion reaches
// durable storage on the next flush.
func (l *Ledger) Delete(id string) {
	delete(l.current, id)
}

// Len returns the number of live positions.
func (l *Ledger) Len() int {
	return len(l.current)
}

// List returns the positions matching the filter, or all of them when
// filter is nil.
func (l *Ledger) List(filter func(*domain.Position) bool) []*domain.Position {
	out := make([]*domain.Position, 0, len(l.current))
	for _, p := range l.current {
		if filter == nil || filter(p) {
			out = append(out, p)
		}
	}
	return out
}

// ListByStatus returns positions whose status is one of the given set.
func (l *Ledger) ListByStatus(statuses ...domain.PositionStatus) []*domain.Position {
	return l.List(func(p *domain.Position) bool {
		for _, s := range statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	})
}

// Mutate applies fn to the stored record in place. Dirtiness is not
// recorded here; the flush-time diff discovers it.
func (l *Ledger) Mutate(id string, fn func(*domain.Position)) error {
	p, ok := l.current[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(p)
	return nil
}

// BeginSell transitions a position to Closing and records the sell
// signature and validity ceiling. Re-entrant sell attempts are rejected
// here, by the ledger, so callers need no coordination of their own.
func (l *Ledger) BeginSell(id, signature string, expiryHeight uint64) (*domain.Position, error) {
	p, ok := l.current[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := p.CanSell(); err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatusClosing
	p.SellSignature = signature
	p.SellExpiryHeight = expiryHeight
	return p, nil
}

// Flush reconciles in-memory state against durable storage. Dirtiness is
// computed as (currentKeys − snapshotKeys) plus common keys whose records
// are structurally unequal; deletions are snapshotKeys − currentKeys.
// One batched put and one batched delete are issued, then the snapshot
// is refreshed. Flushing twice with no intervening mutation performs
// zero writes the second time.
func (l *Ledger) Flush(ctx context.Context, store domain.KVStore, actorID string) error {
	puts := make(map[string][]byte)
	for id, p := range l.current {
		prev, existed := l.snapshot[id]
		if existed && p.Equals(prev) {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("ledger: encode %q: %w", id, err)
		}
		puts[l.storageKey(id)] = raw
	}

	var deletes []string
	for id := range l.snapshot {
		if _, ok := l.current[id]; !ok {
			deletes = append(deletes, l.storageKey(id))
		}
	}

	if len(puts) > 0 {
		if err := store.Put(ctx, actorID, puts); err != nil {
			return fmt.Errorf("ledger: flush put: %w", err)
		}
	}
	if len(deletes) > 0 {
		if err := store.Delete(ctx, actorID, deletes); err != nil {
			return fmt.Errorf("ledger: flush delete: %w", err)
		}
	}

	l.snapshot = make(map[string]*domain.Position, len(l.current))
	for id, p := range l.current {
		l.snapshot[id] = p.Clone()
	}
	return nil
}

func (l *Ledger) storageKey(id string) string {
	return l.prefix + ":" + id
}
