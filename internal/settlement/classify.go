// Package settlement drives a signed swap transaction to a terminal
// outcome: a broadcaster and a confirmation poller race under a
// wall-clock budget, rendezvousing through two cooperative stop flags,
// and the result is classified into a closed outcome taxonomy.
package settlement

import (
	"encoding/json"
	"strings"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
)

// ErrorCodes are the swap program's custom error codes used to classify
// on-chain execution errors. They are configuration, not constants: the
// program can be redeployed with different codes.
type ErrorCodes struct {
	Slippage                 int64
	InsufficientBalance      int64
	FrozenAccount            int64
	FeeAccountNotInitialized int64
}

// Classifier decodes raw on-chain transaction errors into the closed
// settlement outcome set. The decoder is fixed: anything it does not
// recognize is OutcomeFailed, never a guess at something more specific.
type Classifier struct {
	codes ErrorCodes
}

// NewClassifier creates a Classifier for the given program error codes.
func NewClassifier(codes ErrorCodes) *Classifier {
	return &Classifier{codes: codes}
}

// ClassifySendError inspects a submit failure for the account-balance
// markers the node reports in its error message. Those are unretryable:
// resubmitting a transaction the payer cannot fund never succeeds.
// Anything else maps to Unknown and stays retryable.
func (c *Classifier) ClassifySendError(err error) domain.SettleOutcome {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccountNotFound"),
		strings.Contains(msg, "InsufficientFundsForFee"),
		strings.Contains(msg, "insufficient funds"):
		return domain.OutcomeFailedInsufficientBalance
	}
	return domain.OutcomeUnknown
}

// instructionError matches the {"InstructionError":[index,{"Custom":code}]}
// shape of program-level failures.
type instructionError struct {
	InstructionError []json.RawMessage `json:"InstructionError"`
}

// Classify decodes the raw error value attached to a signature status or
// transaction meta. An empty or null error is not a failure and maps to
// OutcomeConfirmed.
func (c *Classifier) Classify(raw json.RawMessage) domain.SettleOutcome {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.OutcomeConfirmed
	}

	// String-form errors: account-level failures reported before any
	// instruction ran. A wallet drained to zero reports AccountNotFound.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "AccountNotFound", "InsufficientFundsForFee":
			return domain.OutcomeFailedInsufficientBalance
		default:
			return domain.OutcomeFailed
		}
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return domain.OutcomeFailed
	}
	if _, ok := asMap["InsufficientFundsForRent"]; ok {
		return domain.OutcomeFailedInsufficientBalance
	}

	var ie instructionError
	if err := json.Unmarshal(raw, &ie); err != nil || len(ie.InstructionError) < 2 {
		return domain.OutcomeFailed
	}
	var custom struct {
		Custom *int64 `json:"Custom"`
	}
	if err := json.Unmarshal(ie.InstructionError[1], &custom); err != nil || custom.Custom == nil {
		return domain.OutcomeFailed
	}

	switch *custom.Custom {
	case c.codes.Slippage:
		return domain.OutcomeFailedSlippage
	case c.codes.InsufficientBalance:
		return domain.OutcomeFailedInsufficientBalance
	case c.codes.FrozenAccount:
		return domain.OutcomeFailedFrozenAccount
	case c.codes.FeeAccountNotInitialized:
		return domain.OutcomeFailedFeeAccountNotInitialized
	default:
		return domain.OutcomeFailed
	}
}
