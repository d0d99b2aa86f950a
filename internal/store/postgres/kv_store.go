package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// KVStore implements domain.KVStore using PostgreSQL. Each actor's
// entries live under its actor_id; the ledger owns all writes and sends
// them pre-batched, so every call maps onto a single round trip.
type KVStore struct {
	pool *pgxpool.Pool
}

var _ domain.KVStore = (*KVStore)(nil)

// NewKVStore creates a new KVStore backed by the given connection pool.
func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool}
}

// List bulk-loads every entry for the actor.
func (s *KVStore) List(ctx context.Context, actorID string) (map[string][]byte, error) {
	const query = `SELECT key, value FROM actor_kv WHERE actor_id = $1`

	rows, err := s.pool.Query(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries for %s: %w", actorID, err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list entries for %s: %w", actorID, err)
	}
	return entries, nil
}

// Put upserts a batch of entries in a single batched round trip.
func (s *KVStore) Put(ctx context.Context, actorID string, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	const query = `
		INSERT INTO actor_kv (actor_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (actor_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	batch := &pgx.Batch{}
	for key, value := range entries {
		batch.Queue(query, actorID, key, value)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: put entries for %s: %w", actorID, err)
		}
	}
	return nil
}

// Delete removes a batch of keys in a single round trip.
func (s *KVStore) Delete(ctx context.Context, actorID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	const query = `DELETE FROM actor_kv WHERE actor_id = $1 AND key = ANY($2)`
	if _, err := s.pool.Exec(ctx, query, actorID, keys); err != nil {
		return fmt.Errorf("postgres: delete entries for %s: %w", actorID, err)
	}
	return nil
}
