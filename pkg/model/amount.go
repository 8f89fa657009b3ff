package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest representable amount (2^256 - 1 smallest units).
var MaxAmount = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// ParseAmount parses a base-10 amount in the smallest currency unit.
// Amounts are whole, non-negative and fit in 256 bits.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount reports whether d is a whole amount in [0, MaxAmount].
func ValidateAmount(d decimal.Decimal) error {
	if d.Sign() < 0 {
		return fmt.Errorf("amount must not be negative: %s", d.String())
	}
	if !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("amount must be a whole number of units: %s", d.String())
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount exceeds 256-bit range")
	}
	return nil
}

// FormatAmount renders a smallest-unit amount in display units, e.g. wei -> ether
// with decimals=18. Trailing zeros are trimmed.
func FormatAmount(d decimal.Decimal, decimals int32) string {
	return d.Shift(-decimals).String()
}
