// Package fixed implements the fixed-point decimal used as the order
// book's price key. Venue prices arrive as decimal strings; parsing them
// straight into a scaled integer (rather than a float64) means two string
// inputs that denote the same decimal always compare equal and hash to the
// same map key. Floating point must never substitute for this type in the
// book's hot path, even when the float was parsed from the very same
// string, because downstream arithmetic can nudge two equal decimals onto
// different bit patterns.
package fixed

import (
	"fmt"
	"strconv"
	"strings"

	"feedengine/pkg/safe"
)

// Digits is the number of fractional digits carried by Price (10^Digits
// scaling). The venue quotes BTCUSDT-class prices well within this range.
const Digits = 8

const scale int64 = 100_000_000 // 10^Digits

// Price is a signed, decimal-scaled fixed-point number. Its zero value is
// the decimal zero. Two Prices compare equal iff their raw representations
// are bit-identical, which is always true for equal decimals because
// Parse is injective on canonical decimal strings.
type Price int64

// Zero is the additive identity.
const Zero Price = 0

// ParseErrorKind classifies why Parse rejected an input string.
type ParseErrorKind int

const (
	ErrEmptyDigits ParseErrorKind = iota
	ErrMultiplePoints
	ErrInvalidChar
	ErrOverflow
)

func (k ParseErrorKind) String() string {
	switch k {
	case ErrEmptyDigits:
		return "empty-digits"
	case ErrMultiplePoints:
		return "multiple-points"
	case ErrInvalidChar:
		return "invalid-char"
	case ErrOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// ParseError reports a malformed decimal string. It is never panicked;
// Parse returns it as an ordinary error.
type ParseError struct {
	Input string
	Kind  ParseErrorKind
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fixed: cannot parse %q: %s", e.Input, e.Kind)
}

// Parse converts a decimal string into a Price. Excess fractional digits
// beyond Digits are truncated, not rounded, matching the venue's own
// truncation behavior on wire precision. A leading '-' is the only
// accepted sign; '+' is rejected as an invalid character to keep the
// grammar unambiguous.
func Parse(s string) (Price, error) {
	if s == "" {
		return 0, &ParseError{Input: s, Kind: ErrEmptyDigits}
	}

	neg := false
	rest := s
	if rest[0] == '-' {
		neg = true
		rest = rest[1:]
	}
	if rest == "" {
		return 0, &ParseError{Input: s, Kind: ErrEmptyDigits}
	}

	intPart, fracPart, hasPoint := rest, "", false
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		intPart, fracPart = rest[:idx], rest[idx+1:]
		hasPoint = true
	}
	if hasPoint && strings.IndexByte(fracPart, '.') >= 0 {
		return 0, &ParseError{Input: s, Kind: ErrMultiplePoints}
	}
	if intPart == "" && fracPart == "" {
		return 0, &ParseError{Input: s, Kind: ErrEmptyDigits}
	}
	if intPart == "" {
		intPart = "0"
	}

	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, &ParseError{Input: s, Kind: ErrInvalidChar}
		}
	}
	for _, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, &ParseError{Input: s, Kind: ErrInvalidChar}
		}
	}

	// Truncate excess fractional precision rather than rounding.
	if len(fracPart) > Digits {
		fracPart = fracPart[:Digits]
	}
	for len(fracPart) < Digits {
		fracPart += "0"
	}

	intVal, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, &ParseError{Input: s, Kind: ErrOverflow}
	}
	fracVal, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, &ParseError{Input: s, Kind: ErrOverflow}
	}

	raw := intVal*scale + fracVal
	if intVal != 0 && raw/scale != intVal {
		return 0, &ParseError{Input: s, Kind: ErrOverflow}
	}
	if neg {
		raw = -raw
	}
	return Price(raw), nil
}

// MustParse parses s and panics on error. Reserved for literal prices in
// tests and static configuration, never for data received over the wire.
func MustParse(s string) Price {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the canonical decimal form: no trailing fractional
// zeros, "0" for zero, a leading '-' for negatives.
func (p Price) String() string {
	raw := int64(p)
	neg := raw < 0
	if neg {
		raw = -raw
	}

	intPart := raw / scale
	fracPart := raw % scale

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatInt(intPart, 10))

	if fracPart != 0 {
		frac := fmt.Sprintf("%0*d", Digits, fracPart)
		frac = strings.TrimRight(frac, "0")
		if frac != "" {
			b.WriteByte('.')
			b.WriteString(frac)
		}
	}
	return b.String()
}

// Raw returns the underlying scaled integer representation.
func (p Price) Raw() int64 { return int64(p) }

// FromRaw builds a Price directly from a pre-scaled integer.
func FromRaw(raw int64) Price { return Price(raw) }

// Add returns p+q. Overflow is a programmer error: callers are expected
// to restrict themselves to the venue's price domain, which never
// approaches int64 limits.
func (p Price) Add(q Price) Price { return Price(safe.SafeAdd(int64(p), int64(q))) }

// Sub returns p-q.
func (p Price) Sub(q Price) Price { return Price(safe.SafeSub(int64(p), int64(q))) }

// Neg returns -p.
func (p Price) Neg() Price { return Price(safe.SafeNeg(int64(p))) }

// Mul returns round(p.raw * q.raw / 10^Digits).
func (p Price) Mul(q Price) Price {
	// Widen to avoid intermediate overflow on the product; venue prices
	// are far below the point where this would itself overflow int64,
	// but float64 has ample mantissa for the rounding step here because
	// both operands are bounded, not because precision is disposable.
	product := float64(p) * float64(q)
	return Price(roundHalfAwayFromZero(product / float64(scale)))
}

// TryDivide returns round(p.raw * 10^Digits / q.raw), or ok=false if q is
// zero.
func (p Price) TryDivide(q Price) (result Price, ok bool) {
	if q == 0 {
		return 0, false
	}
	num := float64(p) * float64(scale)
	return Price(roundHalfAwayFromZero(num / float64(q))), true
}

func roundHalfAwayFromZero(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}

// Less reports whether p < q.
func (p Price) Less(q Price) bool { return p < q }

// LessOrEqual reports whether p <= q.
func (p Price) LessOrEqual(q Price) bool { return p <= q }

// Equal reports whether p == q. Equality is always bit-exact on raw,
// which is the property that makes Price safe as a map key.
func (p Price) Equal(q Price) bool { return p == q }

// IsZero reports whether p is the decimal zero.
func (p Price) IsZero() bool { return p == 0 }

// IsPositive reports whether p > 0.
func (p Price) IsPositive() bool { return p > 0 }

// Float64 converts to a float64 for use in non-key contexts (formatted
// analytics output, basis-point math). Never feed this back into a map
// key or an equality check.
func (p Price) Float64() float64 { return float64(p) / float64(scale) }

// FromFloat64 builds a Price from a float64 by rounding to Digits
// fractional places. Intended for analytics/derived values (e.g. mid
// price) that are formatted for output, not for parsing venue input.
func FromFloat64(v float64) Price {
	return Price(roundHalfAwayFromZero(v * float64(scale)))
}

// MarshalJSON renders the price as a canonical decimal-string JSON value,
// matching the venue's own wire convention for price fields.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a bare JSON number.
func (p *Price) UnmarshalJSON(data []byte) error {
	s := string(data)
	s = strings.Trim(s, `"`)
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
