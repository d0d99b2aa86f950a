package domain

import "time"

// PositionStatus tracks where a position sits in its lifecycle.
type PositionStatus string

const (
	// PositionStatusOpen means no sell is in flight. The buy may or may
	// not yet be confirmed on chain.
	PositionStatusOpen PositionStatus = "open"
	// PositionStatusClosing means exactly one sell attempt is
	// outstanding. Further sell attempts are rejected by the ledger.
	PositionStatusClosing PositionStatus = "closing"
	// PositionStatusClosed means the sell confirmed and realized PnL is
	// recorded. Closed positions live in the closed-positions store.
	PositionStatusClosed PositionStatus = "closed"
)

// NativeMint is the wrapped native token mint. Balance deltas for it
// are read from lamport balances rather than token balance entries.
const NativeMint = "So11111111111111111111111111111111111111112"

// NativeDecimals is the scale of the native token (lamports per unit).
const NativeDecimals int32 = 9

// Token identifies one leg of an instrument.
type Token struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// TokenPair is the (base, quote) instrument a position is denominated in.
// Prices are quote per unit base.
type TokenPair struct {
	Base  Token `json:"base"`
	Quote Token `json:"quote"`
}

// Key returns the stable identity of the pair, used to key tracker actors.
func (tp TokenPair) Key() string {
	return tp.Base.Mint + ":" + tp.Quote.Mint
}

// Slug returns a human-readable pair name for logs and notifications.
func (tp TokenPair) Slug() string {
	return tp.Base.Symbol + "/" + tp.Quote.Symbol
}

// Position is a single trailing stop-loss position: a spot buy that will
// be sold automatically once price falls TriggerPercent below its
// observed peak. A Position is created as soon as the buy transaction is
// sent, possibly before it confirms, and removed from its ledger only
// after the sell confirms or the unconfirmed buy is cancelled.
type Position struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"ownerId"`
	ChatID    int64     `json:"chatId"`
	MessageID int64     `json:"messageId"`
	Pair      TokenPair `json:"pair"`

	// Economics. QuoteAmountIn is what was paid; BaseAmountOut and
	// FillPrice are exact values parsed from the settled buy.
	QuoteAmountIn Amount `json:"quoteAmountIn"`
	BaseAmountOut Amount `json:"baseAmountOut"`
	FillPrice     Amount `json:"fillPrice"`
	PeakPrice     Amount `json:"peakPrice"`
	CurrentPrice  Amount `json:"currentPrice"`

	// Policy.
	TriggerPercent     float64 `json:"triggerPercent"`
	SlippagePercent    float64 `json:"slippagePercent"`
	AutoDoubleSlippage bool    `json:"autoDoubleSlippage"`

	// Lifecycle.
	Status        PositionStatus `json:"status"`
	BuyConfirmed  bool           `json:"buyConfirmed"`
	SellConfirmed *bool          `json:"sellConfirmed,omitempty"`

	BuySignature    string `json:"buySignature"`
	BuyExpiryHeight uint64 `json:"buyExpiryHeight"`

	SellSignature    string `json:"sellSignature,omitempty"`
	SellExpiryHeight uint64 `json:"sellExpiryHeight,omitempty"`

	NetPnL *Amount `json:"netPnl,omitempty"`

	// OtherSellFailureCount counts consecutive sell failures that were
	// not slippage. At the configured ceiling auto-selling is suspended
	// so a structurally broken position does not retry forever.
	OtherSellFailureCount int  `json:"otherSellFailureCount"`
	SellSuspended         bool `json:"sellSuspended"`

	OpenedAt time.Time  `json:"openedAt"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
}

// Triggerable reports whether price ticks should evaluate this position:
// it must be open, buy-confirmed, and not suspended.
func (p *Position) Triggerable() bool {
	return p.Status == PositionStatusOpen && p.BuyConfirmed && !p.SellSuspended
}

// CanSell returns nil when a sell attempt may begin, or the sentinel
// error describing why not. The ledger enforces this guard; callers get
// idempotency without coordinating among themselves.
func (p *Position) CanSell() error {
	switch p.Status {
	case PositionStatusClosed:
		return ErrPositionClosed
	case PositionStatusClosing:
		return ErrSellInFlight
	}
	if !p.BuyConfirmed {
		return ErrBuyUnconfirmed
	}
	return nil
}

// Equals reports structural equality of every persisted field. The
// ledger's flush-time dirty diff is built on this.
func (p *Position) Equals(o *Position) bool {
	if p == nil || o == nil {
		return p == o
	}
	eqTime := func(a, b *time.Time) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Equal(*b)
	}
	eqBool := func(a, b *bool) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	eqAmt := func(a, b *Amount) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.StrictEquals(*b)
	}
	return p.ID == o.ID &&
		p.OwnerID == o.OwnerID &&
		p.ChatID == o.ChatID &&
		p.MessageID == o.MessageID &&
		p.Pair == o.Pair &&
		p.QuoteAmountIn.StrictEquals(o.QuoteAmountIn) &&
		p.BaseAmountOut.StrictEquals(o.BaseAmountOut) &&
		p.FillPrice.StrictEquals(o.FillPrice) &&
		p.PeakPrice.StrictEquals(o.PeakPrice) &&
		p.CurrentPrice.StrictEquals(o.CurrentPrice) &&
		p.TriggerPercent == o.TriggerPercent &&
		p.SlippagePercent == o.SlippagePercent &&
		p.AutoDoubleSlippage == o.AutoDoubleSlippage &&
		p.Status == o.Status &&
		p.BuyConfirmed == o.BuyConfirmed &&
		eqBool(p.SellConfirmed, o.SellConfirmed) &&
		p.BuySignature == o.BuySignature &&
		p.BuyExpiryHeight == o.BuyExpiryHeight &&
		p.SellSignature == o.SellSignature &&
		p.SellExpiryHeight == o.SellExpiryHeight &&
		eqAmt(p.NetPnL, o.NetPnL) &&
		p.OtherSellFailureCount == o.OtherSellFailureCount &&
		p.SellSuspended == o.SellSuspended &&
		p.OpenedAt.Equal(o.OpenedAt) &&
		eqTime(p.ClosedAt, o.ClosedAt)
}

// Clone returns a deep copy suitable for the ledger snapshot.
func (p *Position) Clone() *Position {
	c := *p
	if p.SellConfirmed != nil {
		v := *p.SellConfirmed
		c.SellConfirmed = &v
	}
	if p.NetPnL != nil {
		v := *p.NetPnL
		c.NetPnL = &v
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
