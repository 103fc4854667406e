package domain

import "time"

// TradeType is the overall classification of an analyzed transaction.
type TradeType string

const (
	TradeTypeBuy     TradeType = "buy"
	TradeTypeSell    TradeType = "sell"
	TradeTypeUnknown TradeType = "unknown"
)

// TokenFlow is one token leg of a trade: the mint and how much of it moved
// into or out of the tracked wallet.
type TokenFlow struct {
	Mint   string  `json:"mint"`
	Amount float64 `json:"amount"`
}

// PlatformInfo describes the DEX a transaction was routed through.
type PlatformInfo struct {
	Name       string `json:"name"`
	ProgramID  string `json:"programId,omitempty"`
	CalcMethod string `json:"calcMethod"` // how SOL legs were derived
}

// TradeAnalysis is the normalized result of analyzing one raw transaction.
// One raw transaction yields at most one analysis. It is not persisted as an
// entity of its own; it is attached to the saved-transaction log and drives
// the position ledger.
type TradeAnalysis struct {
	Signature   string       `json:"signature"`
	Timestamp   time.Time    `json:"timestamp"`
	IsOwnWallet bool         `json:"isOwnWallet"`
	IsTrade     bool         `json:"isTrade"`
	IsSwap      bool         `json:"isSwap"`
	Platform    string       `json:"platform"`
	Info        PlatformInfo `json:"platformInfo"`
	TokensBought []TokenFlow `json:"tokensBought"`
	TokensSold   []TokenFlow `json:"tokensSold"`
	SolSpent     float64     `json:"solSpent"`
	SolReceived  float64     `json:"solReceived"`
	Type         TradeType   `json:"type"`
}
