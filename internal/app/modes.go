package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/feed"
)

// TradeMode runs the full trading loop without the archive job: price
// feed, pair actors, auto-selling on triggers, and the re-confirmation
// pass.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runCore(ctx, deps, false)
}

// MonitorMode tracks prices and peaks but never trades: triggers are
// logged and announced, not executed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runCore(ctx, deps, false)
}

// FullMode runs trading plus the periodic closed-position archive.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runCore(ctx, deps, true)
}

// runCore starts the actors, the price feed, and the background passes,
// then blocks until the context is cancelled. Actors are stopped last
// so every in-flight mailbox message lands in a final flush.
func (a *App) runCore(ctx context.Context, deps *Dependencies, archive bool) error {
	// One actor per configured pair, started up front so restart
	// recovery happens before the first tick.
	for _, pair := range deps.Pairs {
		if _, err := deps.Registry.GetOrStart(ctx, pair); err != nil {
			return err
		}
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		deps.Registry.StopAll(stopCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Price feed: every observation routes to the pair's actor.
	handler := func(hctx context.Context, pair domain.TokenPair, price domain.Amount, ts time.Time) {
		actor := deps.Registry.Get(pair.Key())
		if actor == nil {
			return
		}
		if err := actor.UpdatePrice(hctx, price, ts); err != nil {
			a.logger.Warn("price update dropped",
				slog.String("pair", pair.Slug()),
				slog.String("error", err.Error()),
			)
		}
	}

	switch a.cfg.Feed.Source {
	case "ws":
		wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, deps.Pairs, deps.PriceCache, handler, a.logger)
		g.Go(func() error { return wsFeed.Run(gctx) })
	default:
		poller := feed.NewPoller(feed.PollerConfig{
			Interval:   a.cfg.Feed.PollInterval.Duration,
			RateLimit:  a.cfg.Feed.RateLimit,
			RateWindow: a.cfg.Feed.RateWindow.Duration,
		}, deps.Jupiter, deps.PriceCache, deps.RateLimiter, deps.Pairs, handler, a.logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	if deps.Confirmer != nil {
		g.Go(func() error { return deps.Confirmer.Run(gctx) })
	}

	if archive && deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.RunPeriodically(gctx, a.cfg.Archive.Interval.Duration)
			return nil
		})
	}

	return g.Wait()
}
