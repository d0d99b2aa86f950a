package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/ledger"
	"github.com/kyle-pena-nlp/bagzbot/internal/notify"
	"github.com/kyle-pena-nlp/bagzbot/internal/peakindex"
)

// SellFunc initiates a sell attempt for a position that crossed its
// trigger. Implementations run off the actor goroutine and report back
// through the actor's sell lifecycle methods.
type SellFunc func(ctx context.Context, pos domain.Position)

// Config holds the pair actor's policy knobs.
type Config struct {
	// FlushInterval is how often the ledger diff is flushed to storage.
	FlushInterval time.Duration
	// MaxOtherSellFailures is the ceiling of consecutive non-slippage
	// sell failures before auto-selling is suspended for a position.
	MaxOtherSellFailures int
	// MaxSlippagePercent caps slippage auto-doubling.
	MaxSlippagePercent float64
}

func (c *Config) defaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.MaxOtherSellFailures <= 0 {
		c.MaxOtherSellFailures = 3
	}
	if c.MaxSlippagePercent <= 0 {
		c.MaxSlippagePercent = 100
	}
}

// PairActor owns every position on one token pair. All state behind it
// (the ledger and the peak index) is touched only on the actor
// goroutine. Price ticks, buys, and sell results all arrive as mailbox
// messages, so the trigger rule and the dirty-tracked flush never race.
type PairActor struct {
	pair    domain.TokenPair
	actorID string

	cfg      Config
	ledger   *ledger.Ledger
	index    *peakindex.Index
	kv       domain.KVStore
	closed   domain.ClosedPositionStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	sell     SellFunc
	logger   *slog.Logger

	mb         *mailbox
	stopFlush  context.CancelFunc
	flushDone  chan struct{}
	sellCtx    context.Context
	sellCancel context.CancelFunc
}

// NewPairActor creates a PairActor for the given pair. Call Start before
// any other method.
func NewPairActor(pair domain.TokenPair, cfg Config, kv domain.KVStore, closed domain.ClosedPositionStore, bus domain.SignalBus, notifier *notify.Notifier, sell SellFunc, logger *slog.Logger) *PairActor {
	cfg.defaults()
	actorID := "pair:" + pair.Key()
	return &PairActor{
		pair:     pair,
		actorID:  actorID,
		cfg:      cfg,
		ledger:   ledger.New("pos"),
		index:    peakindex.New(),
		kv:       kv,
		closed:   closed,
		bus:      bus,
		notifier: notifier,
		sell:     sell,
		logger: logger.With(
			slog.String("component", "pair_actor"),
			slog.String("pair", pair.Slug()),
		),
		mb: newMailbox(256),
	}
}

// Pair returns the pair this actor owns.
func (a *PairActor) Pair() domain.TokenPair {
	return a.pair
}

// Start loads the actor's positions from storage, rebuilds the peak
// index, and begins processing. The peak index is derived state: it is
// never persisted, only reconstructed from the ledger on start.
func (a *PairActor) Start(ctx context.Context) error {
	entries, err := a.kv.List(ctx, a.actorID)
	if err != nil {
		return err
	}
	if err := a.ledger.Load(entries); err != nil {
		return err
	}
	for _, p := range a.ledger.List(func(p *domain.Position) bool { return p.Triggerable() }) {
		if err := a.index.Insert(p.PeakPrice, p.ID); err != nil {
			return err
		}
	}

	go a.mb.run()

	flushCtx, cancel := context.WithCancel(context.Background())
	a.stopFlush = cancel
	a.flushDone = make(chan struct{})
	go a.flushLoop(flushCtx)

	a.sellCtx, a.sellCancel = context.WithCancel(context.Background())

	a.logger.Info("pair actor started",
		slog.Int("positions", a.ledger.Len()),
		slog.Int("tracked", a.index.Len()),
	)
	return nil
}

// Stop flushes outstanding changes and shuts the actor down.
func (a *PairActor) Stop(ctx context.Context) error {
	a.sellCancel()
	a.stopFlush()
	<-a.flushDone
	err := a.mb.do(ctx, func() {
		if ferr := a.ledger.Flush(ctx, a.kv, a.actorID); ferr != nil {
			a.logger.Error("final flush failed", slog.String("error", ferr.Error()))
		}
	})
	if err != nil {
		return err
	}
	a.mb.close()
	return nil
}

func (a *PairActor) flushLoop(ctx context.Context) {
	defer close(a.flushDone)
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_ = a.mb.post(ctx, func() {
			if err := a.ledger.Flush(context.Background(), a.kv, a.actorID); err != nil {
				a.logger.Error("ledger flush failed", slog.String("error", err.Error()))
			}
		})
	}
}

// UpdatePrice applies one price observation: peaks ratchet up, current
// prices update, and any position whose drawdown from peak reaches its
// trigger flips to closing and has a sell initiated. A position can fire
// at most once per lifecycle; it leaves the index the moment it fires.
func (a *PairActor) UpdatePrice(ctx context.Context, price domain.Amount, ts time.Time) error {
	return a.mb.do(ctx, func() {
		a.applyTick(ctx, price, ts)
	})
}

func (a *PairActor) applyTick(ctx context.Context, price domain.Amount, ts time.Time) {
	// Ratchet peaks: every tracked position whose peak is below the new
	// price now peaks at it.
	for _, id := range a.index.RaiseTo(price) {
		_ = a.ledger.Mutate(id, func(p *domain.Position) {
			p.PeakPrice = price
		})
	}

	var fired []*domain.Position
	for _, p := range a.ledger.List(func(p *domain.Position) bool { return p.Triggerable() }) {
		id := p.ID
		_ = a.ledger.Mutate(id, func(p *domain.Position) {
			p.CurrentPrice = price
			drop := domain.PercentDrop(p.PeakPrice, price)
			if drop.Cmp(domain.AmountFromFloat(p.TriggerPercent)) >= 0 {
				p.Status = domain.PositionStatusClosing
				fired = append(fired, p.Clone())
			}
		})
	}

	for _, p := range fired {
		a.index.Remove(p.ID)
		a.logger.Info("trigger fired",
			slog.String("position", p.ID),
			slog.String("peak", p.PeakPrice.String()),
			slog.String("price", price.String()),
		)
		a.notifier.TriggerFired(ctx, p)
		a.publishSignal(ctx, "trigger.fired", p.ID)
		go a.sell(a.sellCtx, *p)
	}
}

// UpsertPosition registers a new position, typically right after its buy
// transaction is sent and before it confirms. Unconfirmed positions are
// persisted but not tracked by the index.
func (a *PairActor) UpsertPosition(ctx context.Context, p *domain.Position) error {
	return a.mb.do(ctx, func() {
		a.ledger.Upsert(p)
		if p.Triggerable() && !a.index.Contains(p.ID) {
			_ = a.index.Insert(p.PeakPrice, p.ID)
		}
	})
}

// ConfirmBuy records the settled buy: exact amounts, fill price, and the
// initial peak. The position becomes triggerable from here on. The
// summary is required; the peak is seeded from the fill price, so a
// confirmation without one would arm the trigger on a zero peak.
func (a *PairActor) ConfirmBuy(ctx context.Context, id string, summary *domain.SwapSummary) error {
	if summary == nil {
		return fmt.Errorf("confirm buy %s: %w", id, domain.ErrNoSummary)
	}
	return a.mb.do(ctx, func() {
		err := a.ledger.Mutate(id, func(p *domain.Position) {
			p.BuyConfirmed = true
			p.QuoteAmountIn = summary.InAmount
			p.BaseAmountOut = summary.OutAmount
			p.FillPrice = summary.FillPrice
			p.PeakPrice = summary.FillPrice
			p.CurrentPrice = summary.FillPrice
		})
		if err != nil {
			a.logger.Warn("confirm buy for unknown position", slog.String("position", id))
			return
		}
		if p, ok := a.ledger.Get(id); ok && p.Triggerable() && !a.index.Contains(id) {
			_ = a.index.Insert(p.PeakPrice, id)
			a.notifier.PositionOpened(ctx, p)
			a.publishSignal(ctx, "position.opened", id)
		}
	})
}

// RemovePosition deletes a position outright, used when a buy never
// landed on chain.
func (a *PairActor) RemovePosition(ctx context.Context, id string) error {
	return a.mb.do(ctx, func() {
		a.index.Remove(id)
		a.ledger.Delete(id)
	})
}

// BeginSell starts a caller-requested sell: the position flips to
// closing with the attempt's signature attached. Returns the sentinel
// error from the sell guard when the position cannot sell.
func (a *PairActor) BeginSell(ctx context.Context, id, signature string, expiryHeight uint64) (*domain.Position, error) {
	var (
		pos *domain.Position
		err error
	)
	doErr := a.mb.do(ctx, func() {
		pos, err = a.ledger.BeginSell(id, signature, expiryHeight)
		if err == nil {
			a.index.Remove(id)
		}
	})
	if doErr != nil {
		return nil, doErr
	}
	return pos, err
}

// AttachSellAttempt records the signed transaction of a trigger-fired
// sell. The position is already closing at this point.
func (a *PairActor) AttachSellAttempt(ctx context.Context, id, signature string, expiryHeight uint64) error {
	return a.mb.do(ctx, func() {
		_ = a.ledger.Mutate(id, func(p *domain.Position) {
			p.SellSignature = signature
			p.SellExpiryHeight = expiryHeight
		})
	})
}

// MarkSellFailed reopens a position after a failed sell attempt. A
// slippage failure doubles the tolerance when the position opted in,
// capped at the configured maximum. Any other failure counts toward the
// suspension ceiling.
func (a *PairActor) MarkSellFailed(ctx context.Context, id string, outcome domain.SettleOutcome) error {
	return a.mb.do(ctx, func() {
		var suspended bool
		err := a.ledger.Mutate(id, func(p *domain.Position) {
			p.Status = domain.PositionStatusOpen
			p.SellSignature = ""
			p.SellExpiryHeight = 0

			switch {
			case outcome == domain.OutcomeFailedSlippage:
				p.OtherSellFailureCount = 0
				if p.AutoDoubleSlippage {
					p.SlippagePercent = min(p.SlippagePercent*2, a.cfg.MaxSlippagePercent)
				}
			case outcome.SwapFailed():
				p.OtherSellFailureCount++
				if p.OtherSellFailureCount >= a.cfg.MaxOtherSellFailures {
					p.SellSuspended = true
					suspended = true
				}
			default:
				// Dropped or never-submitted attempts say nothing about
				// the position itself; reopen without counting.
			}
		})
		if err != nil {
			return
		}

		p, _ := a.ledger.Get(id)
		if p.Triggerable() && !a.index.Contains(id) {
			_ = a.index.Insert(p.PeakPrice, id)
		}
		a.logger.Warn("sell attempt failed",
			slog.String("position", id),
			slog.String("outcome", outcome.String()),
			slog.Float64("slippage_percent", p.SlippagePercent),
			slog.Bool("suspended", p.SellSuspended),
		)
		if suspended {
			a.notifier.SellSuspended(ctx, p)
			a.publishSignal(ctx, "sell.suspended", id)
			return
		}
		a.notifier.SellFailed(ctx, p, outcome.String())
	})
}

// MarkSellUnconfirmed leaves a closing position as-is for the
// re-confirmation pass; the attempt's fate is genuinely unknown.
func (a *PairActor) MarkSellUnconfirmed(ctx context.Context, id string) error {
	return a.mb.do(ctx, func() {
		p, ok := a.ledger.Get(id)
		if !ok {
			return
		}
		a.logger.Warn("sell unconfirmed, will recheck",
			slog.String("position", id),
			slog.String("signature", p.SellSignature),
		)
		a.notifier.UnconfirmedSell(ctx, p)
	})
}

// CloseConfirmed finalizes a settled sell: realized PnL is recorded, the
// position moves to the closed store, and it leaves the ledger. The
// summary is required; a closed position always carries its realized
// PnL, so a close without one is rejected and the position stays
// pending for the next re-confirmation pass.
func (a *PairActor) CloseConfirmed(ctx context.Context, id string, summary *domain.SwapSummary) error {
	if summary == nil {
		return fmt.Errorf("close position %s: %w", id, domain.ErrNoSummary)
	}
	return a.mb.do(ctx, func() {
		now := time.Now().UTC()
		confirmed := true
		err := a.ledger.Mutate(id, func(p *domain.Position) {
			p.Status = domain.PositionStatusClosed
			p.SellConfirmed = &confirmed
			p.ClosedAt = &now
			pnl := summary.OutAmount.Sub(p.QuoteAmountIn)
			p.NetPnL = &pnl
		})
		if err != nil {
			return
		}

		p, _ := a.ledger.Get(id)
		if insErr := a.closed.Insert(ctx, *p.Clone()); insErr != nil {
			// Keep the closed position in the ledger so the next
			// re-confirmation pass retries the move.
			a.logger.Error("closed position insert failed",
				slog.String("position", id),
				slog.String("error", insErr.Error()),
			)
			return
		}

		a.index.Remove(id)
		a.ledger.Delete(id)
		a.logger.Info("position closed",
			slog.String("position", id),
			slog.String("signature", p.SellSignature),
		)
		a.notifier.PositionClosed(ctx, p)
		a.publishSignal(ctx, "position.closed", id)
	})
}

// Get returns a copy of one position.
func (a *PairActor) Get(ctx context.Context, id string) (*domain.Position, error) {
	var pos *domain.Position
	err := a.mb.do(ctx, func() {
		if p, ok := a.ledger.Get(id); ok {
			pos = p.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, domain.ErrNotFound
	}
	return pos, nil
}

// List returns copies of positions matching the filter; a nil filter
// matches everything.
func (a *PairActor) List(ctx context.Context, filter func(*domain.Position) bool) ([]*domain.Position, error) {
	var out []*domain.Position
	err := a.mb.do(ctx, func() {
		for _, p := range a.ledger.List(filter) {
			out = append(out, p.Clone())
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingSettlements returns closing positions that have a signature
// attached, the input of the re-confirmation pass.
func (a *PairActor) PendingSettlements(ctx context.Context) ([]*domain.Position, error) {
	return a.List(ctx, func(p *domain.Position) bool {
		return p.Status == domain.PositionStatusClosing && p.SellSignature != ""
	})
}

// signalEvent is the JSON payload published for audit consumers.
type signalEvent struct {
	Event      string `json:"event"`
	PositionID string `json:"positionId"`
	Pair       string `json:"pair"`
	TS         int64  `json:"ts"`
}

func (a *PairActor) publishSignal(ctx context.Context, event, positionID string) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(signalEvent{
		Event:      event,
		PositionID: positionID,
		Pair:       a.pair.Key(),
		TS:         time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, "signals", payload); err != nil {
		a.logger.Debug("signal publish failed", slog.String("error", err.Error()))
	}
	if err := a.bus.StreamAppend(ctx, "signals:log", payload); err != nil {
		a.logger.Debug("signal append failed", slog.String("error", err.Error()))
	}
}
