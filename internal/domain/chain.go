package domain

// Chain-level constants for Solana.
const (
	// WrappedSOLMint is the mint address of wrapped SOL. Token deltas on this
	// mint represent routing legs, never a real holding.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"

	// LamportsPerSOL converts lamports to SOL.
	LamportsPerSOL = 1_000_000_000

	// TokenAccountRentLamports is the rent-exemption deposit for an SPL token
	// account. Refunds of exactly this amount are recoverable rent, not trade
	// proceeds. Matched by exact equality; if the network-side constant ever
	// drifts, refund exclusion silently stops working.
	TokenAccountRentLamports = 2_039_280

	// AmountEpsilon is the tolerance under which a token amount is treated as
	// zero, absorbing float rounding from partial sells.
	AmountEpsilon = 1e-6
)
