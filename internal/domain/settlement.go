package domain

import "time"

// SettleOutcome is the closed set of terminal results a settlement
// attempt can produce. Confirmation results take precedence over
// broadcast results: a confirmed signature is authoritative even if the
// broadcaster later believed the height ceiling was exceeded.
type SettleOutcome int

const (
	// OutcomeUnknown means neither loop produced an answer. Treated
	// like Unconfirmed by callers: never guess, retry later.
	OutcomeUnknown SettleOutcome = iota
	// OutcomeConfirmed means the transaction executed on chain and the
	// swap itself succeeded.
	OutcomeConfirmed
	// OutcomeFailed means the transaction executed but the swap
	// reverted for an unclassified reason.
	OutcomeFailed
	// OutcomeFailedSlippage means the swap reverted because the
	// slippage tolerance was exceeded.
	OutcomeFailedSlippage
	// OutcomeFailedInsufficientBalance means the swap reverted for
	// lack of funds (native or token balance).
	OutcomeFailedInsufficientBalance
	// OutcomeFailedFrozenAccount means the token account is frozen.
	OutcomeFailedFrozenAccount
	// OutcomeFailedFeeAccountNotInitialized means the swap program's
	// fee account for this token has not been initialized.
	OutcomeFailedFeeAccountNotInitialized
	// OutcomeDropped means the chain height passed the transaction's
	// validity ceiling without the signature ever landing.
	OutcomeDropped
	// OutcomeUnconfirmed means the attempt hit its wall-clock or
	// exception budget without a definitive answer. The position stays
	// as-is for a later re-confirmation pass.
	OutcomeUnconfirmed
	// OutcomeCouldNotSubmit means no transaction was ever accepted by
	// the RPC for broadcast.
	OutcomeCouldNotSubmit
)

// String implements fmt.Stringer.
func (o SettleOutcome) String() string {
	switch o {
	case OutcomeUnknown:
		return "unknown"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	case OutcomeFailedSlippage:
		return "failed-slippage"
	case OutcomeFailedInsufficientBalance:
		return "failed-insufficient-balance"
	case OutcomeFailedFrozenAccount:
		return "failed-frozen-account"
	case OutcomeFailedFeeAccountNotInitialized:
		return "failed-fee-account-not-initialized"
	case OutcomeDropped:
		return "dropped"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	case OutcomeCouldNotSubmit:
		return "could-not-submit"
	}
	return "unknown"
}

// Definitive reports whether the outcome is a final answer about the
// swap. Unknown and Unconfirmed are ambiguous: the system must never
// silently promote them to Confirmed or Failed.
func (o SettleOutcome) Definitive() bool {
	switch o {
	case OutcomeUnknown, OutcomeUnconfirmed:
		return false
	}
	return true
}

// SwapFailed reports whether the outcome is one of the definitive
// on-chain swap failures.
func (o SettleOutcome) SwapFailed() bool {
	switch o {
	case OutcomeFailed, OutcomeFailedSlippage, OutcomeFailedInsufficientBalance,
		OutcomeFailedFrozenAccount, OutcomeFailedFeeAccountNotInitialized:
		return true
	}
	return false
}

// SwapSummary carries the exact fill extracted from a settled swap
// transaction: base/quote deltas, the effective price, and where on
// chain it landed.
type SwapSummary struct {
	InMint      string    `json:"inMint"`
	InAmount    Amount    `json:"inAmount"`
	OutMint     string    `json:"outMint"`
	OutAmount   Amount    `json:"outAmount"`
	FillPrice   Amount    `json:"fillPrice"`
	FeeLamports uint64    `json:"feeLamports"`
	Slot        uint64    `json:"slot"`
	BlockTime   time.Time `json:"blockTime"`
}

// SettleResult is what the settlement engine hands back to the trader:
// the terminal outcome, the signature it pertains to, and, only when
// the outcome is Confirmed, the parsed fill.
type SettleResult struct {
	Outcome   SettleOutcome
	Signature string
	Summary   *SwapSummary
}
