// Package product holds the compile-time contract specifications for the
// Chinese stock-index futures products the engine trades.
package product

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Spec describes the fixed economic terms of a futures product.
type Spec struct {
	Multiplier   int64
	MarginRatio  decimal.Decimal
	FeeOpen      decimal.Decimal
	FeeClose     decimal.Decimal
	FeeCloseToday decimal.Decimal
	TickSize     decimal.Decimal
}

// Table is the compile-time product-spec table (spec §3).
var Table = map[string]Spec{
	"IC": {
		Multiplier:    200,
		MarginRatio:   decimal.NewFromFloat(0.12),
		FeeOpen:       decimal.NewFromFloat(0.000023),
		FeeClose:      decimal.NewFromFloat(0.000023),
		FeeCloseToday: decimal.NewFromFloat(0.000345),
		TickSize:      decimal.NewFromFloat(0.2),
	},
	"IM": {
		Multiplier:    200,
		MarginRatio:   decimal.NewFromFloat(0.12),
		FeeOpen:       decimal.NewFromFloat(0.000023),
		FeeClose:      decimal.NewFromFloat(0.000023),
		FeeCloseToday: decimal.NewFromFloat(0.000345),
		TickSize:      decimal.NewFromFloat(0.2),
	},
	"IF": {
		Multiplier:    300,
		MarginRatio:   decimal.NewFromFloat(0.10),
		FeeOpen:       decimal.NewFromFloat(0.000023),
		FeeClose:      decimal.NewFromFloat(0.000023),
		FeeCloseToday: decimal.NewFromFloat(0.000345),
		TickSize:      decimal.NewFromFloat(0.2),
	},
	"IH": {
		Multiplier:    300,
		MarginRatio:   decimal.NewFromFloat(0.10),
		FeeOpen:       decimal.NewFromFloat(0.000023),
		FeeClose:      decimal.NewFromFloat(0.000023),
		FeeCloseToday: decimal.NewFromFloat(0.000345),
		TickSize:      decimal.NewFromFloat(0.2),
	},
}

// DefaultSpec is used when a symbol's product code is not in Table.
var DefaultSpec = Table["IM"]

// CodeOf extracts the two-letter product code from a contract symbol,
// e.g. "IM2503" or "IM0" -> "IM".
func CodeOf(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) < 2 {
		return s
	}
	return s[:2]
}

// Lookup returns the Spec for a symbol's product, falling back to
// DefaultSpec for unknown products.
func Lookup(symbol string) Spec {
	if spec, ok := Table[CodeOf(symbol)]; ok {
		return spec
	}
	return DefaultSpec
}

// Normalize applies the main-contract shorthand rule from spec §6.1:
// a bare product code ("IM", "IC", "IF", "IH") is normalized to its
// main-contract shorthand ("IM0", etc). Specific-month codes and
// existing shorthands pass through unchanged.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := Table[s]; ok {
		return s + "0"
	}
	return s
}

// IsMainContract reports whether symbol is a main-contract shorthand,
// i.e. a three-character code ending in '0' (e.g. "IM0").
func IsMainContract(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return len(s) == 3 && strings.HasSuffix(s, "0")
}
