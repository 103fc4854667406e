// Package txanalysis turns raw enhanced-transaction webhook payloads into
// normalized trade analyses across the DEX layouts we know about.
package txanalysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// RawTransaction is the enhanced-transaction shape delivered by the webhook
// provider. Fields we do not consume are ignored by the decoder.
type RawTransaction struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"` // unix seconds
	Source          string           `json:"source,omitempty"`
	FeePayer        string           `json:"feePayer"`
	Fee             int64            `json:"fee"` // lamports
	Instructions    []Instruction    `json:"instructions"`
	NativeTransfers []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers  []TokenTransfer  `json:"tokenTransfers"`
	AccountData     []AccountData    `json:"accountData"`
}

// Instruction carries only the program attribution we need for platform
// detection.
type Instruction struct {
	ProgramID string `json:"programId"`
}

// NativeTransfer is one lamport movement between accounts.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"` // lamports
}

// TokenTransfer is one SPL token movement between user accounts.
type TokenTransfer struct {
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	Mint            string  `json:"mint"`
	TokenAmount     float64 `json:"tokenAmount"` // UI units
}

// AccountData carries per-account balance deltas for the transaction.
type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"` // lamports
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

// TokenBalanceChange is one per-account token delta.
type TokenBalanceChange struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount is the provider's decimal-string amount encoding.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// UIAmount converts the raw decimal string into UI units. Malformed amounts
// degrade to zero rather than failing the whole analysis.
func (r RawTokenAmount) UIAmount() float64 {
	if r.TokenAmount == "" {
		return 0
	}
	raw, err := strconv.ParseFloat(r.TokenAmount, 64)
	if err != nil {
		return 0
	}
	div := 1.0
	for i := 0; i < r.Decimals; i++ {
		div *= 10
	}
	return raw / div
}

// ParsePayload decodes a webhook body that is either a single transaction
// object or an array of them. It returns domain.ErrUnparsable when the body
// is neither.
func ParsePayload(data []byte) ([]RawTransaction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("txanalysis: empty payload: %w", domain.ErrUnparsable)
	}

	if trimmed[0] == '[' {
		var txs []RawTransaction
		if err := json.Unmarshal(trimmed, &txs); err != nil {
			return nil, fmt.Errorf("txanalysis: decode array: %w", domain.ErrUnparsable)
		}
		return txs, nil
	}

	var tx RawTransaction
	if err := json.Unmarshal(trimmed, &tx); err != nil {
		return nil, fmt.Errorf("txanalysis: decode object: %w", domain.ErrUnparsable)
	}
	return []RawTransaction{tx}, nil
}
