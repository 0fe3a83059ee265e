package money

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents is a monetary value stored in integer minor units.
type Cents = int64

// ToCents converts a decimal currency amount into integer minor units.
// Unparsable, non-finite, or negative inputs normalise to zero — the caller
// decides whether an absent amount is an error.
func ToCents(raw any) Cents {
	switch v := raw.(type) {
	case nil:
		return 0
	case int:
		return clampNonNegative(int64(v) * 100)
	case int64:
		return clampNonNegative(v * 100)
	case float64:
		return floatToCents(v)
	case float32:
		return floatToCents(float64(v))
	case string:
		return StringToCents(v)
	default:
		return 0
	}
}

// StringToCents parses a decimal string ("19.99") into cents without float
// round-trip artifacts.
func StringToCents(raw string) Cents {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0
	}
	cents := d.Mul(decimal.NewFromInt(100)).Round(0)
	if !cents.IsInteger() || cents.IsNegative() {
		return 0
	}
	return cents.IntPart()
}

// LineTotal multiplies a unit amount by quantity, treating non-positive
// quantities as absent.
func LineTotal(unit Cents, qty int) Cents {
	if unit <= 0 || qty <= 0 {
		return 0
	}
	return unit * Cents(qty)
}

func floatToCents(v float64) Cents {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return Cents(math.Round(v * 100))
}

func clampNonNegative(v int64) Cents {
	if v < 0 {
		return 0
	}
	return v
}
