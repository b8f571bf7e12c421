package notifier

import (
	"strings"

	"github.com/shopspring/decimal"
)

// tokenDecimals is the fixed-point scale used by the platform contracts.
const tokenDecimals = 18

// NormalizeAddress lowercases and trims an identity address. Every component
// that keys state by owner goes through this, so case variance in the input
// can never produce duplicate records.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// FormatUnits converts a wei-scale decimal string (e.g. "1000000000000000000")
// into a human-readable amount ("1"). Values are rounded to four decimal
// places; unparseable input is returned unchanged so a bad indexer value
// degrades to an ugly email rather than a dropped one.
func FormatUnits(raw string) string {
	if raw == "" {
		return "0"
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.Shift(-tokenDecimals).Round(4).String()
}

// TradeVerb returns the past-tense verb for a trade kind, for email copy.
func TradeVerb(kind TradeKind) string {
	if kind == TradeLiquidated {
		return "sold"
	}
	return "bought"
}
