package txanalysis

import (
	"math"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// Analyzer maps raw transactions to trade analyses. It is pure and
// deterministic given the same input, the fixed own-wallet identity, and the
// platform table.
type Analyzer struct {
	ownWallet string
}

// New creates an Analyzer tracking the given wallet address.
func New(ownWallet string) *Analyzer {
	return &Analyzer{ownWallet: ownWallet}
}

// Analyze produces the normalized trade analysis for one raw transaction.
// Well-formed-but-empty input yields a benign zero analysis; it never fails.
func (a *Analyzer) Analyze(tx RawTransaction) domain.TradeAnalysis {
	entry := detectPlatform(tx)

	analysis := domain.TradeAnalysis{
		Signature:   tx.Signature,
		Timestamp:   time.Unix(tx.Timestamp, 0).UTC(),
		IsOwnWallet: tx.FeePayer != "" && tx.FeePayer == a.ownWallet,
		Platform:    entry.Name,
		Info: domain.PlatformInfo{
			Name:       entry.Name,
			ProgramID:  entry.ProgramID,
			CalcMethod: entry.CalcMethod,
		},
		Type: domain.TradeTypeUnknown,
	}

	a.collectTokenFlows(tx, &analysis)
	a.collectNativeFlows(tx, entry, &analysis)
	a.collectWrappedFlows(tx, entry, &analysis)

	// The network fee always comes out of the wallet.
	analysis.SolSpent += float64(tx.Fee) / domain.LamportsPerSOL

	switch {
	case len(analysis.TokensBought) > 0 && analysis.SolSpent > 0:
		analysis.Type = domain.TradeTypeBuy
	case len(analysis.TokensSold) > 0 && analysis.SolReceived > 0:
		analysis.Type = domain.TradeTypeSell
	}
	analysis.IsTrade = analysis.Type != domain.TradeTypeUnknown
	analysis.IsSwap = len(analysis.TokensBought) > 0 && len(analysis.TokensSold) > 0

	return analysis
}

// collectTokenFlows walks per-account token balance deltas for the own
// wallet. Positive deltas are buys; wrapped SOL is skipped there because it
// is routing, not a purchase. Negative deltas are sells.
func (a *Analyzer) collectTokenFlows(tx RawTransaction, analysis *domain.TradeAnalysis) {
	for _, ad := range tx.AccountData {
		for _, tb := range ad.TokenBalanceChanges {
			if tb.UserAccount != a.ownWallet {
				continue
			}
			amt := tb.RawTokenAmount.UIAmount()
			switch {
			case amt > 0:
				if tb.Mint == domain.WrappedSOLMint {
					continue
				}
				addFlow(&analysis.TokensBought, tb.Mint, amt)
			case amt < 0:
				addFlow(&analysis.TokensSold, tb.Mint, -amt)
			}
		}
	}
}

// collectNativeFlows walks lamport transfers. Rent-exemption deposits and
// their refunds are recoverable rent and excluded from both directions.
func (a *Analyzer) collectNativeFlows(tx RawTransaction, entry platformEntry, analysis *domain.TradeAnalysis) {
	// Accounts funded with an exact rent deposit in this transaction; an
	// incoming transfer from one of them is a refund, not proceeds.
	createdAccounts := make(map[string]bool)
	for _, nt := range tx.NativeTransfers {
		if nt.FromUserAccount == a.ownWallet && nt.Amount == domain.TokenAccountRentLamports {
			createdAccounts[nt.ToUserAccount] = true
		}
	}

	for _, nt := range tx.NativeTransfers {
		switch {
		case nt.ToUserAccount == a.ownWallet:
			if nt.Amount == domain.TokenAccountRentLamports {
				continue
			}
			if createdAccounts[nt.FromUserAccount] {
				continue
			}
			analysis.SolReceived += float64(nt.Amount) / domain.LamportsPerSOL

		case nt.FromUserAccount == a.ownWallet:
			if nt.Amount == domain.TokenAccountRentLamports {
				continue
			}
			analysis.SolSpent += float64(nt.Amount) / domain.LamportsPerSOL
		}
	}

	// Older payload formats carry no native transfers at all. For pump-style
	// sells, recover gross proceeds from the wallet's net balance change plus
	// the fee (the raw delta already has the fee subtracted).
	if len(tx.NativeTransfers) == 0 && len(analysis.TokensSold) > 0 && isPumpStyle(entry.Name) {
		for _, ad := range tx.AccountData {
			if ad.Account != a.ownWallet {
				continue
			}
			gross := ad.NativeBalanceChange + tx.Fee
			if gross > 0 {
				analysis.SolReceived += float64(gross) / domain.LamportsPerSOL
			}
		}
	}
}

// collectWrappedFlows walks wrapped-SOL token transfers, used by AMMs that
// route through a wrapped leg instead of a native transfer. Whether a leg
// counts depends on the DEX family; the rules are the source's empirical
// observation, not a protocol guarantee, and need ongoing calibration.
func (a *Analyzer) collectWrappedFlows(tx RawTransaction, entry platformEntry, analysis *domain.TradeAnalysis) {
	for _, tt := range tx.TokenTransfers {
		if tt.Mint != domain.WrappedSOLMint || tt.TokenAmount <= 0 {
			continue
		}
		switch {
		case tt.FromUserAccount == a.ownWallet:
			if excludeWrappedLeg(tx, entry, analysis, tt.TokenAmount, true) {
				continue
			}
			analysis.SolSpent += tt.TokenAmount

		case tt.ToUserAccount == a.ownWallet:
			if excludeWrappedLeg(tx, entry, analysis, tt.TokenAmount, false) {
				continue
			}
			analysis.SolReceived += tt.TokenAmount
		}
	}
}

// excludeWrappedLeg decides whether a wrapped-SOL leg duplicates value
// already counted elsewhere.
//
// Pump-style: the swap is already captured via token deltas (buys) or the
// balance-delta fallback (sells); counting the wrapped leg would double it.
// Raydium CPMM: the wrapped leg duplicates a native transfer that is always
// present. Meteora family: exclude only when a native transfer of the same
// magnitude is independently found, because those pools sometimes omit the
// native leg entirely. Everyone else: count it.
func excludeWrappedLeg(tx RawTransaction, entry platformEntry, analysis *domain.TradeAnalysis, amount float64, outgoing bool) bool {
	switch {
	case isPumpStyle(entry.Name):
		if outgoing {
			return len(analysis.TokensBought) > 0 && len(analysis.TokensSold) == 0
		}
		return len(analysis.TokensSold) > 0 && len(analysis.TokensBought) == 0

	case entry.Name == PlatformRaydiumCPMM:
		return true

	case isMeteoraFamily(entry.Name):
		return hasMatchingNativeTransfer(tx, amount)

	default:
		return false
	}
}

// hasMatchingNativeTransfer reports whether any native transfer in the
// transaction moves the same number of lamports as the given SOL amount.
func hasMatchingNativeTransfer(tx RawTransaction, solAmount float64) bool {
	lamports := int64(math.Round(solAmount * domain.LamportsPerSOL))
	for _, nt := range tx.NativeTransfers {
		if nt.Amount == lamports {
			return true
		}
	}
	return false
}

// addFlow merges an amount into the flow list, accumulating repeated mints.
func addFlow(flows *[]domain.TokenFlow, mint string, amount float64) {
	for i := range *flows {
		if (*flows)[i].Mint == mint {
			(*flows)[i].Amount += amount
			return
		}
	}
	*flows = append(*flows, domain.TokenFlow{Mint: mint, Amount: amount})
}
