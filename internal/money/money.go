// Package money provides fixed-point arithmetic for platform amounts.
//
// Amounts travel as decimal strings ("50.00", "0.003") and are held
// internally as int64 micro-units (6 decimal places). All balance math in
// escrow, payouts, and stream revenue goes through this package so that no
// component ever does float arithmetic on money.
package money

import (
	"errors"
	"fmt"
	"strings"
)

// Decimals is the fixed decimal precision for all platform amounts.
const Decimals = 6

var (
	ErrInvalidAmount  = errors.New("money: invalid amount")
	ErrNegativeAmount = errors.New("money: amount must not be negative")
)

// Parse converts a decimal string into micro-units.
// "50" → 50000000, "0.003" → 3000, "" → 0.
// Fractional digits beyond six are rejected rather than silently truncated.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, Decimals)
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	var units int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
		d := int64(r - '0')
		if units > (1<<62)/10 {
			return 0, fmt.Errorf("%w: overflow", ErrInvalidAmount)
		}
		units = units*10 + d
	}

	if neg {
		units = -units
	}
	return units, nil
}

// ParsePositive parses an amount and requires it to be strictly positive.
func ParsePositive(s string) (int64, error) {
	units, err := Parse(s)
	if err != nil {
		return 0, err
	}
	if units <= 0 {
		return 0, ErrNegativeAmount
	}
	return units, nil
}

// Format renders micro-units as a decimal string with full precision.
// Format(50000000) == "50.000000".
func Format(units int64) string {
	neg := units < 0
	if neg {
		units = -units
	}
	whole := units / 1_000_000
	frac := units % 1_000_000
	s := fmt.Sprintf("%d.%06d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// Cmp compares two decimal-string amounts. Returns -1, 0, or 1.
// Invalid input compares as zero; callers validate amounts before math.
func Cmp(a, b string) int {
	au, _ := Parse(a)
	bu, _ := Parse(b)
	switch {
	case au < bu:
		return -1
	case au > bu:
		return 1
	}
	return 0
}

// IsPositive reports whether s parses to a strictly positive amount.
func IsPositive(s string) bool {
	units, err := Parse(s)
	return err == nil && units > 0
}
