package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// ClosedPositionStore implements domain.ClosedPositionStore using
// PostgreSQL. The full position is kept as a JSONB document; the indexed
// columns exist for querying, the document is the source of truth.
type ClosedPositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ClosedPositionStore = (*ClosedPositionStore)(nil)

// NewClosedPositionStore creates a new ClosedPositionStore backed by the
// given connection pool.
func NewClosedPositionStore(pool *pgxpool.Pool) *ClosedPositionStore {
	return &ClosedPositionStore{pool: pool}
}

// Insert records a closed position. Re-inserting the same position ID is
// a no-op so settlement retries stay idempotent.
func (s *ClosedPositionStore) Insert(ctx context.Context, p domain.Position) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("postgres: marshal closed position %s: %w", p.ID, err)
	}

	closedAt := time.Now().UTC()
	if p.ClosedAt != nil {
		closedAt = *p.ClosedAt
	}

	const query = `
		INSERT INTO closed_positions (id, owner_id, pair_key, opened_at, closed_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query, p.ID, p.OwnerID, p.Pair.Key(), p.OpenedAt, closedAt, doc)
	if err != nil {
		return fmt.Errorf("postgres: insert closed position %s: %w", p.ID, err)
	}
	return nil
}

// ListByOwner returns an owner's closed positions, newest first.
func (s *ClosedPositionStore) ListByOwner(ctx context.Context, ownerID int64, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT doc FROM closed_positions WHERE owner_id = $1`
	args := []any{ownerID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND closed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND closed_at < $%d", len(args))
	}
	query += " ORDER BY closed_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions for owner %d: %w", ownerID, err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

// ListAllSince returns closed positions across all owners, oldest first,
// for the archiver.
func (s *ClosedPositionStore) ListAllSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	const query = `SELECT doc FROM closed_positions WHERE closed_at >= $1 ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions since %s: %w", since, err)
	}
	defer rows.Close()
	return scanClosedRows(rows)
}

func scanClosedRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		var p domain.Position
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("postgres: decode closed position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
