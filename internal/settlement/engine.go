package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/solana"
)

// ChainRPC is the slice of the chain facade the engine consumes.
type ChainRPC interface {
	GetBlockHeight(ctx context.Context, commitment string) (uint64, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) error
	GetSignatureStatus(ctx context.Context, signature string) (*solana.SignatureStatus, error)
	GetParsedTransaction(ctx context.Context, signature string) (*solana.ParsedTransaction, error)
}

// Config holds the engine's pacing and budget knobs.
type Config struct {
	// RebroadcastDelay is the base sleep between broadcast attempts.
	RebroadcastDelay time.Duration
	// ConfirmPollDelay is the base sleep between status polls.
	ConfirmPollDelay time.Duration
	// ConfirmTimeout is the wall-clock budget measured from the attempt
	// start time. Hitting it yields OutcomeUnconfirmed, never a guess.
	ConfirmTimeout time.Duration
	// MaxSendExceptions and MaxConfirmExceptions bound how many RPC
	// errors each loop tolerates before giving up.
	MaxSendExceptions    int
	MaxConfirmExceptions int
	Codes                ErrorCodes
}

// maxBackoffFactor caps the exponential backoff applied after
// rate-limit responses.
const maxBackoffFactor = 8

// Engine submits signed transactions and drives them to a terminal
// outcome. It owns no position state: callers apply the returned
// SettleResult to the ledger on their own actor.
type Engine struct {
	rpc        ChainRPC
	cfg        Config
	classifier *Classifier
	logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(rpc ChainRPC, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RebroadcastDelay <= 0 {
		cfg.RebroadcastDelay = 2 * time.Second
	}
	if cfg.ConfirmPollDelay <= 0 {
		cfg.ConfirmPollDelay = 2 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.MaxSendExceptions <= 0 {
		cfg.MaxSendExceptions = 10
	}
	if cfg.MaxConfirmExceptions <= 0 {
		cfg.MaxConfirmExceptions = 10
	}
	return &Engine{
		rpc:        rpc,
		cfg:        cfg,
		classifier: NewClassifier(cfg.Codes),
		logger:     logger.With(slog.String("component", "settlement")),
	}
}

// Attempt identifies one settlement attempt: the raw signed transaction,
// its signature, the last block height it is valid at, and when the
// enclosing operation started (the wall-clock budget counts from there,
// not from Settle).
type Attempt struct {
	RawTx           []byte
	Signature       string
	LastValidHeight uint64
	StartTime       time.Time

	// Swap context used to read the exact fill out of the settled
	// transaction's balance deltas.
	Owner   string
	InMint  string
	OutMint string
}

// Settle broadcasts the transaction and polls for confirmation until a
// terminal outcome is reached. The two loops run concurrently, the
// broadcaster resubmitting while the confirmer polls, and rendezvous
// only through the stop flags, never through shared position state.
// The confirmer's answer takes precedence over the broadcaster's:
// a confirmed signature is authoritative even if the broadcaster saw the
// height ceiling pass.
func (e *Engine) Settle(ctx context.Context, attempt Attempt) domain.SettleResult {
	var (
		stopSending    atomic.Bool
		stopConfirming atomic.Bool
		anySent        atomic.Bool
		sendOutcome    = domain.OutcomeUnknown
		confirmOutcome = domain.OutcomeUnknown
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sendOutcome = e.broadcastLoop(gctx, attempt, &stopSending, &stopConfirming, &anySent)
		return nil
	})
	g.Go(func() error {
		confirmOutcome = e.confirmLoop(gctx, attempt, &stopSending, &stopConfirming, &anySent)
		return nil
	})
	_ = g.Wait()

	outcome := resolve(confirmOutcome, sendOutcome)
	e.logger.Info("settlement attempt finished",
		slog.String("signature", attempt.Signature),
		slog.String("send_outcome", sendOutcome.String()),
		slog.String("confirm_outcome", confirmOutcome.String()),
		slog.String("outcome", outcome.String()),
	)

	result := domain.SettleResult{Outcome: outcome, Signature: attempt.Signature}
	if outcome != domain.OutcomeConfirmed {
		return result
	}

	// The transaction confirmed, but the swap inside it may still have
	// reverted. Fetch the settled transaction and parse the definitive
	// answer plus the exact fill.
	parsed, summary := e.parseSettled(ctx, attempt)
	result.Outcome = parsed
	result.Summary = summary
	return result
}

// Reconfirm re-checks a previously submitted signature without
// rebroadcasting, used by the periodic pass over attempts that ended
// Unconfirmed. One status read, one answer.
func (e *Engine) Reconfirm(ctx context.Context, attempt Attempt) domain.SettleResult {
	result := domain.SettleResult{Outcome: domain.OutcomeUnconfirmed, Signature: attempt.Signature}

	status, err := e.rpc.GetSignatureStatus(ctx, attempt.Signature)
	if err != nil {
		return result
	}

	switch {
	case status == nil:
		height, herr := e.rpc.GetBlockHeight(ctx, "")
		if herr == nil && height > attempt.LastValidHeight {
			result.Outcome = domain.OutcomeDropped
		}
	case status.Failed():
		result.Outcome = e.classifier.Classify(status.Err)
	case status.Landed():
		outcome, summary := e.parseSettled(ctx, attempt)
		result.Outcome = outcome
		result.Summary = summary
	}
	return result
}

// resolve implements the precedence rule: confirm result, else send
// result, else Unknown.
func resolve(confirm, send domain.SettleOutcome) domain.SettleOutcome {
	if confirm != domain.OutcomeUnknown {
		return confirm
	}
	if send != domain.OutcomeUnknown {
		return send
	}
	return domain.OutcomeUnknown
}

// broadcastLoop repeatedly (re)submits the raw transaction until told to
// stop, the height ceiling passes, or the exception budget runs out.
func (e *Engine) broadcastLoop(ctx context.Context, attempt Attempt, stopSending, stopConfirming, anySent *atomic.Bool) domain.SettleOutcome {
	exceptions := 0
	backoff := 1
	outcome := domain.OutcomeUnknown

	for !stopSending.Load() && ctx.Err() == nil {
		err := e.rpc.SendRawTransaction(ctx, attempt.RawTx)
		switch {
		case err == nil:
			anySent.Store(true)
			backoff = 1
		case errors.Is(err, domain.ErrRateLimited):
			backoff = min(backoff*2, maxBackoffFactor)
			exceptions++
		default:
			if e.classifier.ClassifySendError(err) == domain.OutcomeFailedInsufficientBalance {
				// Unretryable: the payer cannot fund the transaction,
				// so neither loop has anything left to wait for.
				e.logger.Warn("send rejected for insufficient balance",
					slog.String("signature", attempt.Signature),
					slog.String("error", err.Error()),
				)
				outcome = domain.OutcomeFailedInsufficientBalance
				stopConfirming.Store(true)
				goto done
			}
			e.logger.Warn("send raw transaction failed",
				slog.String("signature", attempt.Signature),
				slog.String("error", err.Error()),
			)
			exceptions++
		}

		height, herr := e.rpc.GetBlockHeight(ctx, "")
		switch {
		case herr == nil:
			if height > attempt.LastValidHeight {
				outcome = domain.OutcomeDropped
				goto done
			}
		case errors.Is(herr, domain.ErrRateLimited):
			backoff = min(backoff*2, maxBackoffFactor)
			exceptions++
		default:
			exceptions++
		}

		if exceptions > e.cfg.MaxSendExceptions {
			outcome = domain.OutcomeCouldNotSubmit
			goto done
		}
		if !sleepCtx(ctx, time.Duration(backoff)*e.cfg.RebroadcastDelay) {
			break
		}
	}

done:
	// Confirmation is only worth pursuing if something actually reached
	// the RPC.
	if !anySent.Load() {
		if outcome == domain.OutcomeUnknown || outcome == domain.OutcomeDropped {
			outcome = domain.OutcomeCouldNotSubmit
		}
		stopConfirming.Store(true)
	}
	return outcome
}

// confirmLoop polls signature status until the signature lands, drops,
// or the budget runs out.
func (e *Engine) confirmLoop(ctx context.Context, attempt Attempt, stopSending, stopConfirming, anySent *atomic.Bool) domain.SettleOutcome {
	// Whatever happens, the broadcaster has no reason to outlive us.
	defer stopSending.Store(true)

	exceptions := 0
	backoff := 1

	for !stopConfirming.Load() && ctx.Err() == nil {
		if time.Since(attempt.StartTime) > e.cfg.ConfirmTimeout {
			return confirmGiveUp(anySent)
		}
		if !anySent.Load() {
			// Nothing to confirm yet; check again shortly.
			if !sleepCtx(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		height, herr := e.rpc.GetBlockHeight(ctx, "")
		if herr != nil {
			exceptions++
			if errors.Is(herr, domain.ErrRateLimited) {
				backoff = min(backoff*2, maxBackoffFactor)
			}
		}

		status, serr := e.rpc.GetSignatureStatus(ctx, attempt.Signature)
		switch {
		case serr != nil:
			exceptions++
			if errors.Is(serr, domain.ErrRateLimited) {
				backoff = min(backoff*2, maxBackoffFactor)
			}
		case status == nil:
			// Signature unknown to the chain. Only definitive once the
			// ceiling has passed; before that it may still land.
			if herr == nil && height > attempt.LastValidHeight {
				return domain.OutcomeDropped
			}
		case status.Failed():
			// Executed with an on-chain error: classify and stop the
			// broadcaster, there is nothing left to resubmit.
			return e.classifier.Classify(status.Err)
		case status.Landed():
			return domain.OutcomeConfirmed
		}

		if exceptions > e.cfg.MaxConfirmExceptions {
			return confirmGiveUp(anySent)
		}
		if !sleepCtx(ctx, time.Duration(backoff)*e.cfg.ConfirmPollDelay) {
			break
		}
	}
	return confirmGiveUp(anySent)
}

// confirmGiveUp distinguishes a transaction whose fate is genuinely
// ambiguous from one that never reached the RPC at all. In the latter
// case the broadcaster's answer must win the precedence rule.
func confirmGiveUp(anySent *atomic.Bool) domain.SettleOutcome {
	if !anySent.Load() {
		return domain.OutcomeUnknown
	}
	return domain.OutcomeUnconfirmed
}

// sleepCtx sleeps for d or until ctx is done, reporting whether the full
// sleep elapsed. Cancellation is cooperative: deadlines are checked at
// loop boundaries, never by preempting an in-flight call.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
