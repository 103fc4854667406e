package txanalysis

import "strings"

// Platform names used throughout the analyzer and ledger.
const (
	PlatformPumpFun     = "PumpFun"
	PlatformPumpSwap    = "PumpSwap"
	PlatformRaydiumV4   = "RaydiumV4"
	PlatformRaydiumCPMM = "RaydiumCPMM"
	PlatformJupiter     = "Jupiter"
	PlatformMeteoraDLMM = "MeteoraDLMM"
	PlatformMeteoraPool = "MeteoraPools"
	PlatformOrca        = "OrcaWhirlpool"
	PlatformUnknown     = "Unknown"
)

// platformEntry maps a program id to a platform descriptor. The table is
// ordered; the first instruction match wins.
type platformEntry struct {
	ProgramID  string
	Name       string
	SourceTag  string // explicit webhook source tag that maps here
	CalcMethod string
}

// knownPlatforms is the ordered platform lookup table. Adding a DEX is a
// data change here plus, when its wrapped-SOL behavior differs, a case in
// excludeWrappedLeg.
var knownPlatforms = []platformEntry{
	{"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P", PlatformPumpFun, "PUMP_FUN", "BondingCurve"},
	{"pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA", PlatformPumpSwap, "PUMP_AMM", "BondingCurve"},
	{"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", PlatformRaydiumV4, "RAYDIUM", "NativeTransfers"},
	{"CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C", PlatformRaydiumCPMM, "", "NativeTransfers"},
	{"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", PlatformJupiter, "JUPITER", "Mixed"},
	{"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo", PlatformMeteoraDLMM, "METEORA", "WrappedSOL"},
	{"Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB", PlatformMeteoraPool, "", "WrappedSOL"},
	{"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc", PlatformOrca, "ORCA", "NativeTransfers"},
}

// detectPlatform resolves the platform for a transaction: the explicit
// source tag wins, else the first instruction program id found in the table.
func detectPlatform(tx RawTransaction) platformEntry {
	if tag := strings.ToUpper(strings.TrimSpace(tx.Source)); tag != "" && tag != "UNKNOWN" {
		for _, e := range knownPlatforms {
			if e.SourceTag == tag {
				return e
			}
		}
	}
	for _, ins := range tx.Instructions {
		for _, e := range knownPlatforms {
			if ins.ProgramID == e.ProgramID {
				return e
			}
		}
	}
	return platformEntry{Name: PlatformUnknown, CalcMethod: "Mixed"}
}

// isPumpStyle reports whether the platform is the pump bonding-curve DEX or
// its AMM router.
func isPumpStyle(name string) bool {
	return name == PlatformPumpFun || name == PlatformPumpSwap
}

// isMeteoraFamily reports whether the platform is one of the Meteora pool
// variants, which sometimes omit the native leg entirely.
func isMeteoraFamily(name string) bool {
	return name == PlatformMeteoraDLMM || name == PlatformMeteoraPool
}
