package trader

import (
	"context"
	"log/slog"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/settlement"
	"github.com/kyle-pena-nlp/bagzbot/internal/tracker"
)

// defaultConfirmInterval is how often the re-confirmation pass runs.
const defaultConfirmInterval = 30 * time.Second

// Confirmer periodically re-checks attempts that ended without a
// definitive answer: sells stuck in the closing state and buys whose
// position exists but never confirmed. It reads signature status once
// per attempt; it never rebroadcasts, since raw transactions are not
// persisted across restarts.
type Confirmer struct {
	registry *tracker.Registry
	settler  Settler
	owner    string
	interval time.Duration
	logger   *slog.Logger
}

// NewConfirmer creates a Confirmer. A non-positive interval falls back
// to the default.
func NewConfirmer(registry *tracker.Registry, settler Settler, signer Signer, interval time.Duration, logger *slog.Logger) *Confirmer {
	if interval <= 0 {
		interval = defaultConfirmInterval
	}
	return &Confirmer{
		registry: registry,
		settler:  settler,
		owner:    signer.Address(),
		interval: interval,
		logger:   logger.With(slog.String("component", "confirmer")),
	}
}

// Run executes passes on the configured interval until ctx is done.
func (c *Confirmer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		c.Pass(ctx)
	}
}

// Pass re-checks every pending attempt across all pair actors once.
func (c *Confirmer) Pass(ctx context.Context) {
	for _, actor := range c.registry.All() {
		c.recheckSells(ctx, actor)
		c.recheckBuys(ctx, actor)
	}
}

func (c *Confirmer) recheckSells(ctx context.Context, actor *tracker.PairActor) {
	pending, err := actor.PendingSettlements(ctx)
	if err != nil {
		c.logger.Error("list pending sells", slog.String("error", err.Error()))
		return
	}
	pair := actor.Pair()
	for _, p := range pending {
		result := c.settler.Reconfirm(ctx, settlement.Attempt{
			Signature:       p.SellSignature,
			LastValidHeight: p.SellExpiryHeight,
			Owner:           c.owner,
			InMint:          pair.Base.Mint,
			OutMint:         pair.Quote.Mint,
		})
		if !result.Outcome.Definitive() {
			continue
		}
		c.logger.Info("pending sell resolved",
			slog.String("position", p.ID),
			slog.String("outcome", result.Outcome.String()),
		)
		var derr error
		switch {
		case result.Outcome == domain.OutcomeConfirmed:
			derr = actor.CloseConfirmed(ctx, p.ID, result.Summary)
		case result.Outcome.SwapFailed(), result.Outcome == domain.OutcomeDropped:
			derr = actor.MarkSellFailed(ctx, p.ID, result.Outcome)
		}
		if derr != nil {
			c.logger.Error("apply sell recheck", slog.String("position", p.ID), slog.String("error", derr.Error()))
		}
	}
}

func (c *Confirmer) recheckBuys(ctx context.Context, actor *tracker.PairActor) {
	unconfirmed, err := actor.List(ctx, func(p *domain.Position) bool {
		return p.Status == domain.PositionStatusOpen && !p.BuyConfirmed && p.BuySignature != ""
	})
	if err != nil {
		c.logger.Error("list unconfirmed buys", slog.String("error", err.Error()))
		return
	}
	pair := actor.Pair()
	for _, p := range unconfirmed {
		result := c.settler.Reconfirm(ctx, settlement.Attempt{
			Signature:       p.BuySignature,
			LastValidHeight: p.BuyExpiryHeight,
			Owner:           c.owner,
			InMint:          pair.Quote.Mint,
			OutMint:         pair.Base.Mint,
		})
		if !result.Outcome.Definitive() {
			continue
		}
		c.logger.Info("pending buy resolved",
			slog.String("position", p.ID),
			slog.String("outcome", result.Outcome.String()),
		)
		var derr error
		if result.Outcome == domain.OutcomeConfirmed {
			derr = actor.ConfirmBuy(ctx, p.ID, result.Summary)
		} else {
			// Dropped or reverted on chain: no tokens were acquired.
			derr = actor.RemovePosition(ctx, p.ID)
		}
		if derr != nil {
			c.logger.Error("apply buy recheck", slog.String("position", p.ID), slog.String("error", derr.Error()))
		}
	}
}
