package trader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/notify"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/jupiter"
	"github.com/kyle-pena-nlp/bagzbot/internal/settlement"
	"github.com/kyle-pena-nlp/bagzbot/internal/tracker"
)

// OpenRequest describes one position to open: how much quote to spend
// and the trailing-stop policy that will govern the position.
type OpenRequest struct {
	OwnerID   int64
	ChatID    int64
	MessageID int64
	Pair      domain.TokenPair

	QuoteAmount        domain.Amount
	TriggerPercent     float64
	SlippagePercent    float64
	AutoDoubleSlippage bool
}

// Buyer opens positions: quote, sign, register the position
// unconfirmed, then settle the buy. The position is registered before
// broadcast so a crash mid-settlement leaves a record the confirmer can
// resolve.
type Buyer struct {
	quoter   Quoter
	signer   Signer
	settler  Settler
	registry *tracker.Registry
	status   *notify.StatusChannel
	logger   *slog.Logger
}

// NewBuyer creates a Buyer. The status channel may be nil.
func NewBuyer(quoter Quoter, signer Signer, settler Settler, registry *tracker.Registry, status *notify.StatusChannel, logger *slog.Logger) *Buyer {
	return &Buyer{
		quoter:   quoter,
		signer:   signer,
		settler:  settler,
		registry: registry,
		status:   status,
		logger:   logger.With(slog.String("component", "buyer")),
	}
}

// OpenPosition executes the buy leg end to end and returns the position
// in whatever state settlement left it. An Unconfirmed buy is not an
// error: the position stays registered and the confirmer finishes the
// job later.
func (b *Buyer) OpenPosition(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	st := b.status.Open(ctx, req.ChatID, fmt.Sprintf("Buying %s of %s", req.QuoteAmount.DisplayString(4), req.Pair.Base.Symbol))

	actor, err := b.registry.GetOrStart(ctx, req.Pair)
	if err != nil {
		st.Finalize("Could not start tracking, nothing was bought.")
		return nil, fmt.Errorf("start pair actor: %w", err)
	}

	quote, err := b.quoter.GetQuote(ctx, jupiter.QuoteRequest{
		InMint:      req.Pair.Quote.Mint,
		OutMint:     req.Pair.Base.Mint,
		Amount:      req.QuoteAmount.Rescale(req.Pair.Quote.Decimals).Mantissa(),
		SlippageBps: slippageBps(req.SlippagePercent),
	})
	if err != nil {
		st.Finalize("No viable route, nothing was bought.")
		return nil, fmt.Errorf("quote buy: %w", err)
	}
	st.Queue("Route found, building transaction.")

	swapTx, err := b.quoter.BuildSwapTransaction(ctx, quote, b.signer.Address())
	if err != nil {
		st.Finalize("Transaction build failed, nothing was bought.")
		return nil, fmt.Errorf("build buy transaction: %w", err)
	}
	signed, signature, err := b.signer.SignTransaction(swapTx.RawTx)
	if err != nil {
		st.Finalize("Signing failed, nothing was bought.")
		return nil, fmt.Errorf("sign buy transaction: %w", err)
	}

	pos := &domain.Position{
		ID:                 uuid.NewString(),
		OwnerID:            req.OwnerID,
		ChatID:             req.ChatID,
		MessageID:          req.MessageID,
		Pair:               req.Pair,
		QuoteAmountIn:      req.QuoteAmount,
		TriggerPercent:     req.TriggerPercent,
		SlippagePercent:    req.SlippagePercent,
		AutoDoubleSlippage: req.AutoDoubleSlippage,
		Status:             domain.PositionStatusOpen,
		BuySignature:       signature,
		BuyExpiryHeight:    swapTx.LastValidBlockHeight,
		OpenedAt:           time.Now().UTC(),
	}
	if err := actor.UpsertPosition(ctx, pos); err != nil {
		st.Finalize("Could not record the position, nothing was bought.")
		return nil, fmt.Errorf("register position: %w", err)
	}
	st.Queue("Transaction sent, waiting for confirmation.")

	result := b.settler.Settle(ctx, settlement.Attempt{
		RawTx:           signed,
		Signature:       signature,
		LastValidHeight: swapTx.LastValidBlockHeight,
		StartTime:       time.Now(),
		Owner:           b.signer.Address(),
		InMint:          req.Pair.Quote.Mint,
		OutMint:         req.Pair.Base.Mint,
	})

	b.logger.Info("buy settled",
		slog.String("position", pos.ID),
		slog.String("pair", req.Pair.Slug()),
		slog.String("outcome", result.Outcome.String()),
		slog.String("signature", signature),
	)

	switch {
	case result.Outcome == domain.OutcomeConfirmed:
		if err := actor.ConfirmBuy(ctx, pos.ID, result.Summary); err != nil {
			return nil, fmt.Errorf("confirm buy: %w", err)
		}
		st.Finalize(fmt.Sprintf("Bought %s %s, trailing stop armed at -%s%%.",
			result.Summary.OutAmount.DisplayString(4), req.Pair.Base.Symbol,
			strconv.FormatFloat(req.TriggerPercent, 'f', -1, 64)))
	case result.Outcome == domain.OutcomeDropped,
		result.Outcome == domain.OutcomeCouldNotSubmit,
		result.Outcome.SwapFailed():
		if err := actor.RemovePosition(ctx, pos.ID); err != nil {
			return nil, fmt.Errorf("remove failed buy: %w", err)
		}
		st.Finalize("Buy did not land, nothing was bought.")
		return nil, fmt.Errorf("buy did not land: %s", result.Outcome)
	default:
		// Unconfirmed or Unknown: never guess. The position stays
		// registered with its signature for the re-confirmation pass.
		st.Finalize("Buy not yet confirmed, it will be rechecked shortly.")
	}

	return actor.Get(ctx, pos.ID)
}
