package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/solana"
)

// parseSettled fetches the confirmed transaction and extracts the exact
// fill. A fetch or parse failure downgrades the outcome to Unconfirmed:
// a Confirmed result must always carry the parsed fill, so the caller
// leaves the position pending and the re-confirmation pass retries with
// a fresh fetch.
func (e *Engine) parseSettled(ctx context.Context, attempt Attempt) (domain.SettleOutcome, *domain.SwapSummary) {
	tx, err := e.rpc.GetParsedTransaction(ctx, attempt.Signature)
	if err != nil {
		e.logger.Warn("fetch of confirmed transaction failed",
			slog.String("signature", attempt.Signature),
			slog.String("error", err.Error()),
		)
		return domain.OutcomeUnconfirmed, nil
	}

	outcome, summary, err := ParseConfirmed(tx, attempt.Owner, attempt.InMint, attempt.OutMint, e.classifier)
	if err != nil {
		e.logger.Warn("parse of confirmed transaction failed",
			slog.String("signature", attempt.Signature),
			slog.String("error", err.Error()),
		)
		return domain.OutcomeUnconfirmed, nil
	}
	return outcome, summary
}

// ParseConfirmed extracts the swap result from a settled transaction.
// The transaction meta may reveal that the swap reverted even though the
// signature confirmed, in which case the classified failure outcome is
// returned with no summary. Otherwise the owner's token balance deltas
// yield the exact amounts exchanged, and the fill price is computed as
// input over output.
func ParseConfirmed(tx *solana.ParsedTransaction, owner, inMint, outMint string, classifier *Classifier) (domain.SettleOutcome, *domain.SwapSummary, error) {
	if tx == nil || tx.Meta == nil {
		return domain.OutcomeUnknown, nil, fmt.Errorf("transaction has no metadata")
	}

	outcome := classifier.Classify(tx.Meta.Err)
	if outcome != domain.OutcomeConfirmed {
		return outcome, nil, nil
	}

	inDelta, err := ownerDelta(tx, owner, inMint)
	if err != nil {
		return outcome, nil, fmt.Errorf("input delta for mint %s: %w", inMint, err)
	}
	outDelta, err := ownerDelta(tx, owner, outMint)
	if err != nil {
		return outcome, nil, fmt.Errorf("output delta for mint %s: %w", outMint, err)
	}

	inAmount := inDelta.Neg()
	if inAmount.Sign() < 0 {
		return outcome, nil, fmt.Errorf("input balance for mint %s increased", inMint)
	}
	if outDelta.Sign() <= 0 {
		return outcome, nil, fmt.Errorf("output balance for mint %s did not increase", outMint)
	}

	fill, err := inAmount.Div(outDelta, domain.MathScale)
	if err != nil {
		return outcome, nil, fmt.Errorf("fill price: %w", err)
	}

	summary := &domain.SwapSummary{
		InMint:      inMint,
		InAmount:    inAmount,
		OutMint:     outMint,
		OutAmount:   outDelta,
		FillPrice:   fill,
		FeeLamports: tx.Meta.Fee,
		Slot:        tx.Slot,
	}
	if tx.BlockTime != nil {
		summary.BlockTime = time.Unix(*tx.BlockTime, 0).UTC()
	}
	return outcome, summary, nil
}

// ownerDelta computes post minus pre for the owner's balance of a mint.
// The native mint is read off lamport balances; everything else off the
// token balance entries. A missing entry on one side means a balance of
// zero on that side, not an error.
func ownerDelta(tx *solana.ParsedTransaction, owner, mint string) (domain.Amount, error) {
	if mint == domain.NativeMint {
		return nativeDelta(tx, owner)
	}

	pre, preOK := tokenAmountFor(tx.Meta.PreTokenBalances, owner, mint)
	post, postOK := tokenAmountFor(tx.Meta.PostTokenBalances, owner, mint)
	if !preOK && !postOK {
		return domain.Amount{}, fmt.Errorf("no balance entries for owner")
	}
	if !preOK {
		pre = solana.TokenAmount{Amount: "0", Decimals: post.Decimals}
	}
	if !postOK {
		post = solana.TokenAmount{Amount: "0", Decimals: pre.Decimals}
	}

	preAmt, err := domain.NewAmount(pre.Amount, pre.Decimals)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("pre balance: %w", err)
	}
	postAmt, err := domain.NewAmount(post.Amount, post.Decimals)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("post balance: %w", err)
	}
	return postAmt.Sub(preAmt), nil
}

// nativeDelta reads the owner's lamport balance change, adding back the
// transaction fee so the delta reflects the swap alone when the owner is
// the fee payer.
func nativeDelta(tx *solana.ParsedTransaction, owner string) (domain.Amount, error) {
	idx := -1
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key.Pubkey == owner {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return domain.Amount{}, fmt.Errorf("owner account not present in balances")
	}

	pre := new(big.Int).SetUint64(tx.Meta.PreBalances[idx])
	post := new(big.Int).SetUint64(tx.Meta.PostBalances[idx])
	delta := new(big.Int).Sub(post, pre)
	if idx == 0 {
		// The first account key signs and pays the fee.
		delta.Add(delta, new(big.Int).SetUint64(tx.Meta.Fee))
	}
	return domain.NewAmount(delta.String(), domain.NativeDecimals)
}

// tokenAmountFor finds the balance entry for an owner and mint.
func tokenAmountFor(balances []solana.TokenBalance, owner, mint string) (solana.TokenAmount, bool) {
	for _, b := range balances {
		if b.Owner == owner && b.Mint == mint {
			return b.UITokenAmount, true
		}
	}
	return solana.TokenAmount{}, false
}
