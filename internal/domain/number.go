package domain

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ToFloat coerces a loosely typed cell into a float64.
// Missing, empty and non-numeric values yield NaN so that arithmetic on them
// stays non-finite and is handled by the MissingPolicy.
func ToFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		return parseNumber(t.String())
	case string:
		return parseNumber(t)
	default:
		return math.NaN()
	}
}

// parseNumber parses a numeric string, returning NaN for empty or invalid input.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	f, _ := d.Float64()
	return f
}

// IsNumeric reports whether a string cell holds a plain number.
func IsNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := decimal.NewFromString(s)
	return err == nil
}

// FloatPtr returns nil for NaN or infinite values.
func FloatPtr(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// FloatFromPtr is the inverse of FloatPtr.
func FloatFromPtr(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// FormatFixed renders v rounded to the given number of decimal places,
// or an empty string when v is missing.
func FormatFixed(v NullFloat, places int32) string {
	if !v.Valid {
		return ""
	}
	return decimal.NewFromFloat(v.Float64).StringFixed(places)
}

// FormatPrice renders a price column with FormatFixed, treating NaN as missing.
func FormatPrice(f float64, places int32) string {
	return FormatFixed(NullFloatFromPtr(FloatPtr(f)), places)
}
