// Package feed observes market prices and pushes them into the position
// trackers. Two sources are supported: a polling source backed by the
// aggregator's price API, and a streaming source over WebSocket. Both
// deliver ticks through the same handler, so trackers never know which
// source produced an observation.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// PriceHandler consumes one observed price for a pair.
type PriceHandler func(ctx context.Context, pair domain.TokenPair, price domain.Amount, ts time.Time)

// PriceSource reads a spot price, quote per unit base.
type PriceSource interface {
	GetPrice(ctx context.Context, baseMint, quoteMint string) (domain.Amount, error)
}

// priceRateKey is the rate-limiter key shared by all price polling.
const priceRateKey = "feed:price"

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval between polling rounds.
	Interval time.Duration
	// RateLimit and RateWindow bound price API calls across instances.
	RateLimit  int
	RateWindow time.Duration
}

// Poller reads prices for a set of pairs on a fixed interval. Each
// observation is written through to the price cache and handed to the
// handler.
type Poller struct {
	cfg     PollerConfig
	source  PriceSource
	cache   domain.PriceCache
	limiter domain.RateLimiter
	handler PriceHandler
	logger  *slog.Logger

	pairs []domain.TokenPair
}

// NewPoller creates a Poller for the given pairs.
func NewPoller(cfg PollerConfig, source PriceSource, cache domain.PriceCache, limiter domain.RateLimiter, pairs []domain.TokenPair, handler PriceHandler, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		cache:   cache,
		limiter: limiter,
		handler: handler,
		logger:  logger.With(slog.String("component", "price_poller")),
		pairs:   pairs,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.pairs) == 0 {
		p.logger.Info("no pairs to poll, exiting")
		return nil
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("price poller started",
		slog.Int("pairs", len(p.pairs)),
		slog.Duration("interval", p.cfg.Interval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		p.pollOnce(ctx)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, pair := range p.pairs {
		if err := p.limiter.Wait(ctx, priceRateKey, p.cfg.RateLimit, p.cfg.RateWindow); err != nil {
			return
		}

		price, err := p.source.GetPrice(ctx, pair.Base.Mint, pair.Quote.Mint)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrRateLimited) {
				level = slog.LevelDebug
			}
			p.logger.Log(ctx, level, "price fetch failed",
				slog.String("pair", pair.Slug()),
				slog.String("error", err.Error()),
			)
			continue
		}

		ts := time.Now().UTC()
		if err := p.cache.SetPrice(ctx, pair.Key(), price, ts); err != nil {
			p.logger.Warn("price cache write failed",
				slog.String("pair", pair.Slug()),
				slog.String("error", err.Error()),
			)
		}
		p.handler(ctx, pair, price, ts)
	}
}
