package domain

import "time"

// SwapQuote is the aggregator's answer for selling a token amount into SOL.
type SwapQuote struct {
	InputMint    string  `json:"inputMint"`
	OutputMint   string  `json:"outputMint"`
	InAmount     uint64  `json:"inAmount"`  // base units
	OutAmount    uint64  `json:"outAmount"` // lamports
	PriceImpact  float64 `json:"priceImpactPct"`
	SlippageBps  int     `json:"slippageBps"`
	RoutePlan    []byte  `json:"routePlan,omitempty"` // opaque aggregator route, echoed back on swap build
}

// WarmedQuote is a precomputed sell quote cached ahead of user action.
// It is valid only while its age is under the validity window AND the
// current balance deviates from BalanceSnapshot by no more than the
// configured percentage; otherwise it must be recomputed.
type WarmedQuote struct {
	Mint            string    `json:"mint"`
	FractionPct     int       `json:"fractionPct"` // 25, 50, 100
	Quote           SwapQuote `json:"quote"`
	SwapTransaction string    `json:"swapTransaction"` // base64 unsigned tx
	BalanceSnapshot uint64    `json:"balanceSnapshot"` // base units at quote time
	Timestamp       time.Time `json:"timestamp"`
}

// Age returns how old the warmed quote is at the given instant.
func (q WarmedQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// SellErrorType classifies execution failures for retry policy and display.
type SellErrorType string

const (
	SellErrBlockhashExpired  SellErrorType = "BLOCKHASH_EXPIRED"
	SellErrInsufficientFunds SellErrorType = "INSUFFICIENT_FUNDS"
	SellErrRateLimit         SellErrorType = "RATE_LIMIT"
	SellErrSlippageExceeded  SellErrorType = "SLIPPAGE_EXCEEDED"
	SellErrSimulationFailed  SellErrorType = "SIMULATION_FAILED"
	SellErrNoRouteFound      SellErrorType = "NO_ROUTE_FOUND"
	SellErrUnknown           SellErrorType = "UNKNOWN"
)

// Retryable reports whether an execution attempt with this failure class is
// worth repeating with backoff. Insufficient funds and missing routes are
// deterministic; retrying them only burns the rate budget.
func (t SellErrorType) Retryable() bool {
	switch t {
	case SellErrRateLimit, SellErrBlockhashExpired:
		return true
	default:
		return false
	}
}

// SellResult is the structured outcome of a sell execution. The coordinator
// always returns one of these rather than propagating errors, so the HTTP
// handler can always respond.
type SellResult struct {
	ID              string        `json:"id"`
	Mint            string        `json:"mint"`
	FractionPct     int           `json:"fractionPct"`
	Success         bool          `json:"success"`
	Signature       string        `json:"signature,omitempty"`
	SolReceived     float64       `json:"solReceived,omitempty"`
	Error           string        `json:"error,omitempty"`
	ErrorType       SellErrorType `json:"errorType,omitempty"`
	UsedWarmQuote   bool          `json:"usedWarmQuote"`
	ExecutionTimeMs int64         `json:"executionTimeMs"`
}
