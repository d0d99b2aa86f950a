package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for history queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// KVStore is the durable key-value store backing each actor's ledger.
// Keys are namespaced per owning actor. Business logic never writes
// through this interface directly; all writes flow through the ledger's
// batched flush.
type KVStore interface {
	// List bulk-loads every entry for the actor, called once on start.
	List(ctx context.Context, actorID string) (map[string][]byte, error)
	// Put writes a batch of entries.
	Put(ctx context.Context, actorID string, entries map[string][]byte) error
	// Delete removes a batch of keys.
	Delete(ctx context.Context, actorID string, keys []string) error
}

// ClosedPositionStore holds positions after their sell confirms. Closed
// positions are moved here rather than deleted so PnL history survives.
type ClosedPositionStore interface {
	Insert(ctx context.Context, p Position) error
	ListByOwner(ctx context.Context, ownerID int64, opts ListOpts) ([]Position, error)
	// ListAllSince returns closed positions across owners, for archiving.
	ListAllSince(ctx context.Context, since time.Time) ([]Position, error)
}

// PriceCache provides fast access to the latest observed price per pair.
// Prices are stored exactly (mantissa + scale), never as floats.
type PriceCache interface {
	SetPrice(ctx context.Context, pairKey string, price Amount, ts time.Time) error
	GetPrice(ctx context.Context, pairKey string) (Amount, time.Time, error)
}

// SignalBus publishes engine events (triggers fired, settlements
// resolved) for audit consumers. Delivery is best-effort.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter bounds how often the process hits external APIs.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking so background jobs run on
// exactly one instance at a time.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld if the lock is
	// already held elsewhere.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter writes archive objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
