// Package core holds the cashbook domain types and amount parsing.
//
// Amount parsing accepts the decimal-comma convention first and falls
// back to an invariant dot-decimal parse. The two-pass order exists to
// keep grouping separators from rescaling the value: "10" must stay 10
// and "12.50" must stay 12.50 even though "." is a grouping character
// under the comma convention.
package core

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a non-negative money value.
type Amount struct {
	decimal.Decimal
}

var (
	// Integer part with "." accepted only as a grouping separator in
	// valid groups of three. Anything else falls through to pass 2.
	groupedIntRe = regexp.MustCompile(`^\d{1,3}(\.\d{3})*$`)
	plainIntRe   = regexp.MustCompile(`^\d+$`)
)

// ParseAmount parses a free-text money amount.
//
// Pass 1 applies the decimal-comma convention: "," is the fractional
// separator, "." is tolerated as thousands grouping ("1.234,56" ->
// 1234.56). Pass 2 normalizes "," to "." and parses dot-decimal
// ("12.50" -> 12.50). Empty, signed and malformed input fails.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Amount{}, ErrInvalidAmount
	}

	if v, ok := parseDecimalComma(s); ok {
		return v, nil
	}

	normalized := strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(normalized)
	if err != nil || d.IsNegative() {
		return Amount{}, ErrInvalidAmount
	}
	return Amount{d}, nil
}

func parseDecimalComma(s string) (Amount, bool) {
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, ','); i >= 0 {
		if strings.Count(s, ",") > 1 {
			return Amount{}, false
		}
		intPart, fracPart = s[:i], s[i+1:]
		if fracPart == "" || !plainIntRe.MatchString(fracPart) {
			return Amount{}, false
		}
	}
	switch {
	case plainIntRe.MatchString(intPart):
		// no grouping
	case groupedIntRe.MatchString(intPart):
		intPart = strings.ReplaceAll(intPart, ".", "")
	default:
		return Amount{}, false
	}
	joined := intPart
	if fracPart != "" {
		joined += "." + fracPart
	}
	d, err := decimal.NewFromString(joined)
	if err != nil {
		return Amount{}, false
	}
	return Amount{d}, true
}

// MustAmount parses a dot-decimal literal, for tests and constants.
func MustAmount(s string) Amount {
	return Amount{decimal.RequireFromString(s)}
}

// Zero reports whether the amount is exactly zero.
func (a Amount) Zero() bool {
	return a.Decimal.IsZero()
}

// Positive reports whether the amount is strictly greater than zero.
func (a Amount) Positive() bool {
	return a.Decimal.IsPositive()
}

// Fixed renders the amount with exactly two fractional digits and an
// invariant decimal point, the export format.
func (a Amount) Fixed() string {
	return a.Decimal.StringFixed(2)
}

// Add returns the sum of two amounts.
func (a Amount) Add(b Amount) Amount {
	return Amount{a.Decimal.Add(b.Decimal)}
}

// Sub returns a minus b; the result may be negative (year balances).
func (a Amount) Sub(b Amount) Amount {
	return Amount{a.Decimal.Sub(b.Decimal)}
}

func (a Amount) Equal(b Amount) bool {
	return a.Decimal.Equal(b.Decimal)
}
