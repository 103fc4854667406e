package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// TransactionType classifies a fill recorded against a position.
type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// TransactionRecord is a single fill attached to a position. Records are
// append-only; once added they are never mutated.
type TransactionRecord struct {
	Type           TransactionType `json:"type"`
	Amount         float64         `json:"amount"`
	Price          float64         `json:"price"` // SOL per token unit
	PriceUSD       *float64        `json:"priceUsd,omitempty"`
	SolAmount      float64         `json:"solAmount"`
	USDAmount      *float64        `json:"usdAmount,omitempty"`
	SolPriceAtTime *float64        `json:"solPriceAtTime,omitempty"`
	Signature      string          `json:"signature"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Position is the aggregated holding record for one mint.
//
// Invariants: TotalAmount >= 0 (amounts within AmountEpsilon of zero are
// treated as zero); AverageCost == TotalInvested / TotalAmount whenever
// TotalAmount > 0; TotalInvested covers only the currently-held cost basis
// and is reduced proportionally on partial sells. Status cycles
// open -> closed -> open (reopen); closed is not terminal.
type Position struct {
	Mint             string              `json:"mint"`
	TotalAmount      float64             `json:"totalAmount"`
	AverageCost      float64             `json:"averageCost"` // SOL per token unit
	AverageCostUSD   *float64            `json:"averageCostUsd,omitempty"`
	TotalInvested    float64             `json:"totalInvested"` // SOL
	TotalInvestedUSD *float64            `json:"totalInvestedUsd,omitempty"`
	Status           PositionStatus      `json:"status"`
	Platform         string              `json:"platform,omitempty"`
	OpenedAt         time.Time           `json:"openedAt"`
	LastUpdate       time.Time           `json:"lastUpdate"`
	ClosedAt         *time.Time          `json:"closedAt,omitempty"`
	FinalPnL         *float64            `json:"finalPnl,omitempty"`
	FinalPnLUSD      *float64            `json:"finalPnlUsd,omitempty"`
	Transactions     []TransactionRecord `json:"transactions"`
}

// IsOpen reports whether the position currently holds a balance.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Clone returns a deep copy so event payloads and snapshots never alias the
// ledger's live record.
func (p *Position) Clone() Position {
	cp := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	cp.FinalPnL = copyFloat(p.FinalPnL)
	cp.FinalPnLUSD = copyFloat(p.FinalPnLUSD)
	cp.AverageCostUSD = copyFloat(p.AverageCostUSD)
	cp.TotalInvestedUSD = copyFloat(p.TotalInvestedUSD)
	cp.Transactions = make([]TransactionRecord, len(p.Transactions))
	copy(cp.Transactions, p.Transactions)
	return cp
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
