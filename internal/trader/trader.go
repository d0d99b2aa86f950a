// Package trader initiates swaps and drives their settlement outcomes
// back into the pair actors. The buyer opens positions, the seller
// executes trigger-fired and manual sells, and the confirmer re-checks
// attempts that ended without a definitive answer.
package trader

import (
	"context"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/jupiter"
	"github.com/kyle-pena-nlp/bagzbot/internal/settlement"
	"github.com/kyle-pena-nlp/bagzbot/internal/wallet"
)

// Quoter prices swaps and serializes routes into unsigned transactions.
type Quoter interface {
	GetQuote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	BuildSwapTransaction(ctx context.Context, quote *jupiter.Quote, userPublicKey string) (*jupiter.SwapTransaction, error)
}

// Signer signs serialized transactions with the hot wallet.
type Signer interface {
	Address() string
	SignTransaction(raw []byte) ([]byte, string, error)
}

// Settler drives one transaction to a terminal settlement outcome.
type Settler interface {
	Settle(ctx context.Context, attempt settlement.Attempt) domain.SettleResult
	Reconfirm(ctx context.Context, attempt settlement.Attempt) domain.SettleResult
}

var (
	_ Quoter  = (*jupiter.Client)(nil)
	_ Signer  = (*wallet.Wallet)(nil)
	_ Settler = (*settlement.Engine)(nil)
)

// slippageBps converts a percent tolerance to basis points.
func slippageBps(percent float64) int {
	return int(percent * 100)
}
