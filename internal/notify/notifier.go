// Package notify delivers position lifecycle alerts and live status
// updates to operators. Terminal events fan out to all registered
// senders (Telegram, Discord, etc.), while in-flight operations stream
// progress through a throttled, editable status message.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// Event types emitted by the position lifecycle.
const (
	EventPositionOpened  = "position.opened"
	EventPositionClosed  = "position.closed"
	EventTriggerFired    = "trigger.fired"
	EventSellFailed      = "sell.failed"
	EventSellSuspended   = "sell.suspended"
	EventUnconfirmedSell = "sell.unconfirmed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches lifecycle alerts to one or more Senders. It
// maintains a set of allowed event types; Notify only forwards messages
// whose event type is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
// Only events whose type appears in the events slice will be forwarded.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is
// in the allowed list. If no events were configured, all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return
	}
	n.dispatch(ctx, title, message)
}

// PositionOpened announces a confirmed buy.
func (n *Notifier) PositionOpened(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Opened %s", pos.Pair.Slug())
	message := fmt.Sprintf("Bought %s %s at %s, trailing stop %s%% below peak.",
		pos.BaseAmountOut.DisplayString(4), pos.Pair.Base.Symbol,
		pos.FillPrice.DisplayString(4), trimFloat(pos.TriggerPercent))
	n.Notify(ctx, EventPositionOpened, title, message)
}

// TriggerFired announces that a position crossed its trigger and a sell
// is being attempted.
func (n *Notifier) TriggerFired(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Trigger fired for %s", pos.Pair.Slug())
	message := fmt.Sprintf("Price %s is %s%% below peak %s. Selling.",
		pos.CurrentPrice.DisplayString(4), trimFloat(pos.TriggerPercent),
		pos.PeakPrice.DisplayString(4))
	n.Notify(ctx, EventTriggerFired, title, message)
}

// PositionClosed announces a confirmed sell with realized PnL.
func (n *Notifier) PositionClosed(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Closed %s", pos.Pair.Slug())
	pnl := "unknown"
	if pos.NetPnL != nil {
		pnl = pos.NetPnL.DisplayString(4) + " " + pos.Pair.Quote.Symbol
	}
	message := fmt.Sprintf("Sold %s %s. Net PnL: %s.",
		pos.BaseAmountOut.DisplayString(4), pos.Pair.Base.Symbol, pnl)
	n.Notify(ctx, EventPositionClosed, title, message)
}

// SellFailed announces a sell attempt that ended in a definitive
// failure and the state the position reopened in.
func (n *Notifier) SellFailed(ctx context.Context, pos *domain.Position, reason string) {
	title := fmt.Sprintf("Sell failed for %s", pos.Pair.Slug())
	message := fmt.Sprintf("Sell attempt failed (%s). Position reopened with slippage %s%%.",
		reason, trimFloat(pos.SlippagePercent))
	n.Notify(ctx, EventSellFailed, title, message)
}

// SellSuspended warns that automatic selling has been paused for a
// position after repeated unclassified failures.
func (n *Notifier) SellSuspended(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Sell suspended for %s", pos.Pair.Slug())
	message := fmt.Sprintf("Automatic selling paused after %d failed attempts. Manual intervention needed.",
		pos.OtherSellFailureCount)
	n.Notify(ctx, EventSellSuspended, title, message)
}

// UnconfirmedSell warns that a sell attempt ended without a definitive
// outcome and will be re-checked.
func (n *Notifier) UnconfirmedSell(ctx context.Context, pos *domain.Position) {
	title := fmt.Sprintf("Unconfirmed sell for %s", pos.Pair.Slug())
	message := fmt.Sprintf("Signature %s has no definitive outcome yet. It will be re-checked.",
		pos.SellSignature)
	n.Notify(ctx, EventUnconfirmedSell, title, message)
}

// dispatch iterates over all senders. A failing sender is logged and
// skipped; alerts are best effort and must never block trading.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// trimFloat renders a percentage without trailing zeros.
func trimFloat(f float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.4f", f), "0")
	return strings.TrimRight(s, ".")
}
