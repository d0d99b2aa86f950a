package jupiter

import "encoding/json"

// QuoteRequest asks the aggregator for a swap route.
type QuoteRequest struct {
	// InMint and OutMint are the token mints being swapped between.
	InMint  string
	OutMint string
	// Amount is the raw scaled input quantity (mantissa at the input
	// token's native decimals).
	Amount string
	// SlippageBps is the slippage tolerance in basis points.
	SlippageBps int
}

// Quote is a priced route returned by the aggregator. RoutePlan is kept
// opaque: it is echoed back verbatim when the route is serialized into a
// transaction, never interpreted here.
type Quote struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	RoutePlan            json.RawMessage `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
}

// SwapTransaction is a serialized, unsigned transaction for a quoted
// route, plus the last block height it remains valid at.
type SwapTransaction struct {
	RawTx                []byte
	LastValidBlockHeight uint64
}

// errorResponse is the aggregator's error envelope.
type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}
