package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// archiveLockKey guards the archive run so it executes on exactly one
// instance.
const archiveLockKey = "archive:closed-positions"

// Archiver exports closed positions to blob storage as JSONL, one object
// per run, keyed by date. The primary store keeps its rows; the archive
// is a redundant copy for analytics and disaster recovery.
type Archiver struct {
	writer domain.BlobWriter
	closed domain.ClosedPositionStore
	locks  domain.LockManager
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, closed domain.ClosedPositionStore, locks domain.LockManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		closed: closed,
		locks:  locks,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run exports every position closed since the given time. It returns the
// number of positions archived; zero with nil error when another
// instance holds the archive lock or there is nothing to export.
func (a *Archiver) Run(ctx context.Context, since time.Time) (int, error) {
	unlock, err := a.locks.Acquire(ctx, archiveLockKey, 10*time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("archive run skipped, lock held elsewhere")
			return 0, nil
		}
		return 0, fmt.Errorf("s3blob: acquire archive lock: %w", err)
	}
	defer unlock()

	positions, err := a.closed.ListAllSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list closed positions: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range positions {
		if err := enc.Encode(p); err != nil {
			return 0, fmt.Errorf("s3blob: encode position %s: %w", p.ID, err)
		}
	}

	key := archiveKey(time.Now().UTC())
	if err := a.writer.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, err
	}

	a.logger.Info("archived closed positions",
		slog.String("key", key),
		slog.Int("count", len(positions)),
		slog.Time("since", since),
	)
	return len(positions), nil
}

// RunPeriodically runs an archive pass at the given interval until the
// context is cancelled. Each pass covers the window since the previous
// successful pass.
func (a *Archiver) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	since := time.Now().UTC().Add(-interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := a.Run(ctx, since)
		if err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			since = time.Now().UTC()
		}
	}
}

// archiveKey builds the object key for a run.
func archiveKey(t time.Time) string {
	return fmt.Sprintf("closed-positions/%s/%d.jsonl", t.Format("2006/01/02"), t.Unix())
}
