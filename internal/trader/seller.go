package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/jupiter"
	"github.com/kyle-pena-nlp/bagzbot/internal/settlement"
	"github.com/kyle-pena-nlp/bagzbot/internal/tracker"
)

// Seller executes sells. Trigger-fired sells arrive through Sell (the
// pair actor's SellFunc); manual sells through SellNow, which claims
// the position first so two requests cannot race. Either way the
// position is already in the closing state when the swap is attempted,
// and every outcome is reported back to the actor, which decides
// whether to reopen, suspend, or close.
type Seller struct {
	quoter   Quoter
	signer   Signer
	settler  Settler
	registry *tracker.Registry
	logger   *slog.Logger
}

// NewSeller creates a Seller.
func NewSeller(quoter Quoter, signer Signer, settler Settler, registry *tracker.Registry, logger *slog.Logger) *Seller {
	return &Seller{
		quoter:   quoter,
		signer:   signer,
		settler:  settler,
		registry: registry,
		logger:   logger.With(slog.String("component", "seller")),
	}
}

// Sell is the tracker.SellFunc: it runs off the actor goroutine for a
// position the trigger just flipped to closing.
func (s *Seller) Sell(ctx context.Context, pos domain.Position) {
	actor := s.registry.Get(pos.Pair.Key())
	if actor == nil {
		s.logger.Error("sell for untracked pair", slog.String("pair", pos.Pair.Key()))
		return
	}
	s.execute(ctx, actor, pos)
}

// SellNow is the manual path: claim the position through the actor's
// sell guard, then run the same attempt the trigger path runs. The
// guard's sentinel errors (sell in flight, closed, buy unconfirmed)
// come back verbatim.
func (s *Seller) SellNow(ctx context.Context, pair domain.TokenPair, positionID string) error {
	actor := s.registry.Get(pair.Key())
	if actor == nil {
		return fmt.Errorf("pair %s: %w", pair.Slug(), domain.ErrNotFound)
	}
	pos, err := actor.BeginSell(ctx, positionID, "", 0)
	if err != nil {
		return err
	}
	s.execute(ctx, actor, *pos)
	return nil
}

// execute runs one sell attempt for a position already in the closing
// state. It never returns an error: every failure mode maps to an
// actor callback.
func (s *Seller) execute(ctx context.Context, actor *tracker.PairActor, pos domain.Position) {
	fail := func(outcome domain.SettleOutcome, stage string, err error) {
		s.logger.Warn("sell attempt aborted",
			slog.String("position", pos.ID),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		if merr := actor.MarkSellFailed(ctx, pos.ID, outcome); merr != nil {
			s.logger.Error("mark sell failed", slog.String("position", pos.ID), slog.String("error", merr.Error()))
		}
	}

	quote, err := s.quoter.GetQuote(ctx, jupiter.QuoteRequest{
		InMint:      pos.Pair.Base.Mint,
		OutMint:     pos.Pair.Quote.Mint,
		Amount:      pos.BaseAmountOut.Rescale(pos.Pair.Base.Decimals).Mantissa(),
		SlippageBps: slippageBps(pos.SlippagePercent),
	})
	if err != nil {
		fail(domain.OutcomeCouldNotSubmit, "quote", err)
		return
	}
	swapTx, err := s.quoter.BuildSwapTransaction(ctx, quote, s.signer.Address())
	if err != nil {
		fail(domain.OutcomeCouldNotSubmit, "build", err)
		return
	}
	signed, signature, err := s.signer.SignTransaction(swapTx.RawTx)
	if err != nil {
		fail(domain.OutcomeCouldNotSubmit, "sign", err)
		return
	}

	if err := actor.AttachSellAttempt(ctx, pos.ID, signature, swapTx.LastValidBlockHeight); err != nil {
		s.logger.Error("attach sell attempt", slog.String("position", pos.ID), slog.String("error", err.Error()))
		return
	}

	result := s.settler.Settle(ctx, settlement.Attempt{
		RawTx:           signed,
		Signature:       signature,
		LastValidHeight: swapTx.LastValidBlockHeight,
		StartTime:       time.Now(),
		Owner:           s.signer.Address(),
		InMint:          pos.Pair.Base.Mint,
		OutMint:         pos.Pair.Quote.Mint,
	})

	s.logger.Info("sell settled",
		slog.String("position", pos.ID),
		slog.String("outcome", result.Outcome.String()),
		slog.String("signature", signature),
	)

	s.dispatch(ctx, actor, pos.ID, result)
}

// dispatch routes a settlement result to the actor callback that owns
// that outcome. Shared with the confirmer's re-check pass.
func (s *Seller) dispatch(ctx context.Context, actor *tracker.PairActor, id string, result domain.SettleResult) {
	var err error
	switch {
	case result.Outcome == domain.OutcomeConfirmed:
		err = actor.CloseConfirmed(ctx, id, result.Summary)
	case result.Outcome.SwapFailed(),
		result.Outcome == domain.OutcomeDropped,
		result.Outcome == domain.OutcomeCouldNotSubmit:
		err = actor.MarkSellFailed(ctx, id, result.Outcome)
	default:
		err = actor.MarkSellUnconfirmed(ctx, id)
	}
	if err != nil {
		s.logger.Error("sell result dispatch failed",
			slog.String("position", id),
			slog.String("outcome", result.Outcome.String()),
			slog.String("error", err.Error()),
		)
	}
}
