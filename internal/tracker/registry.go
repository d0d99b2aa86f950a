package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/notify"
)

// Registry owns the PairActors, one per token pair. Actors are created
// lazily the first time a pair is traded and live until shutdown.
type Registry struct {
	cfg      Config
	kv       domain.KVStore
	closed   domain.ClosedPositionStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	sell     SellFunc
	logger   *slog.Logger

	mu     sync.RWMutex
	actors map[string]*PairActor
}

// NewRegistry creates an empty Registry. SetSellFunc must be called
// before the first actor is created; the seller needs the registry and
// the registry needs the seller, and this breaks the cycle.
func NewRegistry(cfg Config, kv domain.KVStore, closed domain.ClosedPositionStore, bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		kv:       kv,
		closed:   closed,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		actors:   make(map[string]*PairActor),
	}
}

// SetSellFunc installs the sell initiator used by every actor.
func (r *Registry) SetSellFunc(sell SellFunc) {
	r.sell = sell
}

// Get returns the running actor for a pair, or nil.
func (r *Registry) Get(pairKey string) *PairActor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actors[pairKey]
}

// GetOrStart returns the actor for a pair, starting one if needed.
func (r *Registry) GetOrStart(ctx context.Context, pair domain.TokenPair) (*PairActor, error) {
	key := pair.Key()

	r.mu.RLock()
	actor := r.actors[key]
	r.mu.RUnlock()
	if actor != nil {
		return actor, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if actor := r.actors[key]; actor != nil {
		return actor, nil
	}

	actor = NewPairActor(pair, r.cfg, r.kv, r.closed, r.bus, r.notifier, r.sell, r.logger)
	if err := actor.Start(ctx); err != nil {
		return nil, err
	}
	r.actors[key] = actor
	return actor, nil
}

// All returns the running actors.
func (r *Registry) All() []*PairActor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PairActor, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a)
	}
	return out
}

// StopAll stops every actor, flushing their ledgers.
func (r *Registry) StopAll(ctx context.Context) {
	for _, a := range r.All() {
		if err := a.Stop(ctx); err != nil {
			r.logger.Error("pair actor stop failed",
				slog.String("pair", a.Pair().Slug()),
				slog.String("error", err.Error()),
			)
		}
	}
}
