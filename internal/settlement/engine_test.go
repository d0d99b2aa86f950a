package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyle-pena-nlp/bagzbot/internal/domain"
	"github.com/kyle-pena-nlp/bagzbot/internal/platform/solana"
)

type mockRPC struct {
	mu sync.Mutex

	height    uint64
	heightErr error

	sendErr   error
	sendCalls int

	statusFn   func(call int) (*solana.SignatureStatus, error)
	statusCall int

	parsedTx  *solana.ParsedTransaction
	parsedErr error
}

func (m *mockRPC) GetBlockHeight(ctx context.Context, commitment string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, m.heightErr
}

func (m *mockRPC) SendRawTransaction(ctx context.Context, rawTx []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	return m.sendErr
}

func (m *mockRPC) GetSignatureStatus(ctx context.Context, signature string) (*solana.SignatureStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCall++
	if m.statusFn == nil {
		return nil, nil
	}
	return m.statusFn(m.statusCall)
}

func (m *mockRPC) GetParsedTransaction(ctx context.Context, signature string) (*solana.ParsedTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parsedTx, m.parsedErr
}

func testEngine(rpc ChainRPC) *Engine {
	cfg := Config{
		RebroadcastDelay:     time.Millisecond,
		ConfirmPollDelay:     time.Millisecond,
		ConfirmTimeout:       5 * time.Second,
		MaxSendExceptions:    3,
		MaxConfirmExceptions: 3,
		Codes:                ErrorCodes{Slippage: 6001},
	}
	return NewEngine(rpc, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testAttempt() Attempt {
	return Attempt{
		RawTx:           []byte{1, 2, 3},
		Signature:       "sig",
		LastValidHeight: 100,
		StartTime:       time.Now(),
		Owner:           "owner",
		InMint:          "mintIn",
		OutMint:         "mintOut",
	}
}

func TestSettleDroppedWhenHeightCeilingPasses(t *testing.T) {
	rpc := &mockRPC{height: 101}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	assert.Equal(t, domain.OutcomeDropped, res.Outcome)
	assert.Nil(t, res.Summary)
}

func TestSettleUnconfirmedAfterRateLimitCeiling(t *testing.T) {
	rpc := &mockRPC{
		height: 50,
		statusFn: func(int) (*solana.SignatureStatus, error) {
			return nil, domain.ErrRateLimited
		},
	}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	assert.Equal(t, domain.OutcomeUnconfirmed, res.Outcome)
	assert.GreaterOrEqual(t, rpc.statusCall, 4)
}

func TestSettleCouldNotSubmitWhenEverySendFails(t *testing.T) {
	rpc := &mockRPC{height: 50, sendErr: errors.New("boom")}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	assert.Equal(t, domain.OutcomeCouldNotSubmit, res.Outcome)
}

func TestSettleInsufficientBalanceSendErrorIsUnretryable(t *testing.T) {
	rpc := &mockRPC{
		height:  50,
		sendErr: errors.New("rpc error -32002: Transaction simulation failed: Attempt to debit an account but found no record of a prior credit. AccountNotFound"),
	}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	assert.Equal(t, domain.OutcomeFailedInsufficientBalance, res.Outcome)

	// The classification is immediate, not the product of grinding
	// through the exception ceiling.
	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	assert.Equal(t, 1, rpc.sendCalls)
}

func TestSettleConfirmedParsesFill(t *testing.T) {
	blockTime := int64(1_700_000_000)
	rpc := &mockRPC{
		height: 50,
		statusFn: func(call int) (*solana.SignatureStatus, error) {
			if call < 2 {
				return nil, nil
			}
			return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed}, nil
		},
		parsedTx: &solana.ParsedTransaction{
			Slot:      77,
			BlockTime: &blockTime,
			Meta: &solana.TransactionMeta{
				Fee: 5000,
				PreTokenBalances: []solana.TokenBalance{
					{Mint: "mintIn", Owner: "owner", UITokenAmount: solana.TokenAmount{Amount: "1000000", Decimals: 6}},
				},
				PostTokenBalances: []solana.TokenBalance{
					{Mint: "mintIn", Owner: "owner", UITokenAmount: solana.TokenAmount{Amount: "0", Decimals: 6}},
					{Mint: "mintOut", Owner: "owner", UITokenAmount: solana.TokenAmount{Amount: "4000000000", Decimals: 9}},
				},
			},
		},
	}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	require.Equal(t, domain.OutcomeConfirmed, res.Outcome)
	require.NotNil(t, res.Summary)
	assert.Equal(t, "1", res.Summary.InAmount.String())
	assert.Equal(t, "4", res.Summary.OutAmount.String())
	assert.Equal(t, "0.25", res.Summary.FillPrice.String())
	assert.Equal(t, uint64(5000), res.Summary.FeeLamports)
	assert.Equal(t, uint64(77), res.Summary.Slot)
	assert.Equal(t, time.Unix(blockTime, 0).UTC(), res.Summary.BlockTime)
}

func TestSettleConfirmedButSwapRevertedOnChain(t *testing.T) {
	rpc := &mockRPC{
		height: 50,
		statusFn: func(int) (*solana.SignatureStatus, error) {
			return &solana.SignatureStatus{
				ConfirmationStatus: solana.CommitmentConfirmed,
				Err:                json.RawMessage(`{"InstructionError":[3,{"Custom":6001}]}`),
			}, nil
		},
	}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	assert.Equal(t, domain.OutcomeFailedSlippage, res.Outcome)
	assert.Nil(t, res.Summary)
}

func TestSettleConfirmFetchFailureDowngradesToUnconfirmed(t *testing.T) {
	rpc := &mockRPC{
		height: 50,
		statusFn: func(int) (*solana.SignatureStatus, error) {
			return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentFinalized}, nil
		},
		parsedErr: errors.New("node behind"),
	}
	eng := testEngine(rpc)

	res := eng.Settle(context.Background(), testAttempt())

	// A Confirmed outcome must always carry the parsed fill. When the
	// fetch fails the attempt stays pending so a later re-confirmation
	// can fetch again.
	assert.Equal(t, domain.OutcomeUnconfirmed, res.Outcome)
	assert.Nil(t, res.Summary)
}

func TestParseConfirmedNativeInputAddsBackFee(t *testing.T) {
	tx := &solana.ParsedTransaction{
		Slot: 9,
		Meta: &solana.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{2_000_000_000},
			PostBalances: []uint64{999_995_000},
			PostTokenBalances: []solana.TokenBalance{
				{Mint: "mintOut", Owner: "owner", UITokenAmount: solana.TokenAmount{Amount: "500000", Decimals: 6}},
			},
		},
	}
	tx.Transaction.Message.AccountKeys = []solana.AccountKey{{Pubkey: "owner", Signer: true}}

	outcome, summary, err := ParseConfirmed(tx, "owner", domain.NativeMint, "mintOut", NewClassifier(ErrorCodes{}))

	require.NoError(t, err)
	require.Equal(t, domain.OutcomeConfirmed, outcome)
	require.NotNil(t, summary)
	assert.Equal(t, "1", summary.InAmount.String())
	assert.Equal(t, "0.5", summary.OutAmount.String())
	assert.Equal(t, "2", summary.FillPrice.String())
}

func TestResolvePrecedence(t *testing.T) {
	assert.Equal(t, domain.OutcomeConfirmed, resolve(domain.OutcomeConfirmed, domain.OutcomeDropped))
	assert.Equal(t, domain.OutcomeDropped, resolve(domain.OutcomeUnknown, domain.OutcomeDropped))
	assert.Equal(t, domain.OutcomeUnknown, resolve(domain.OutcomeUnknown, domain.OutcomeUnknown))
}
