// Package domain defines the core entities of the trailing stop-loss
// engine: exact decimal amounts, position records, settlement outcomes,
// and the collaborator interfaces the engine consumes.
package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MathScale is the internal precision used for lossy divisions that feed
// further arithmetic (fill prices, PnL ratios).
const MathScale int32 = 15

// PercentScale is the precision used when evaluating percentage drops
// against trigger thresholds. Six fractional digits is sufficient for
// percentage comparison at this domain's amount sizes.
const PercentScale int32 = 6

// Amount is an exact scaled-integer decimal value: mantissa x 10^-scale.
// The mantissa is an arbitrary-precision integer and scale is always >= 0.
// Trailing zeros in the mantissa are legal; they affect display, never
// value. Every monetary computation in the engine goes through Amount;
// floats are never used for settlement math.
//
// The zero value is 0 at scale 0.
type Amount struct {
	d decimal.Decimal
}

// NewAmount builds an Amount from a decimal-digit mantissa string
// (optionally signed) and a non-negative scale.
func NewAmount(mantissa string, scale int32) (Amount, error) {
	if scale < 0 {
		return Amount{}, fmt.Errorf("%w: negative scale %d", ErrInvalidAmount, scale)
	}
	m, ok := new(big.Int).SetString(mantissa, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: mantissa %q", ErrInvalidAmount, mantissa)
	}
	return Amount{d: decimal.NewFromBigInt(m, -scale)}, nil
}

// MustAmount is NewAmount that panics on malformed input. For constants
// and tests.
func MustAmount(mantissa string, scale int32) Amount {
	a, err := NewAmount(mantissa, scale)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAmount parses a plain decimal string such as "100.000000" or
// "0.0000444", preserving the written scale exactly.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return fromDecimal(d), nil
}

// AmountFromInt64 returns n at scale 0.
func AmountFromInt64(n int64) Amount {
	return Amount{d: decimal.NewFromInt(n)}
}

// AmountFromFloat converts a float to an Amount. This is a lossy
// convenience for operator-supplied knobs (trigger percentages and the
// like); settlement quantities must never pass through here.
func AmountFromFloat(f float64) Amount {
	return fromDecimal(decimal.NewFromFloat(f))
}

// ZeroAmount returns 0 at scale 0.
func ZeroAmount() Amount {
	return Amount{}
}

// fromDecimal normalizes a shopspring decimal into the scale >= 0
// invariant by padding mantissa zeros when the exponent is positive.
func fromDecimal(d decimal.Decimal) Amount {
	if d.Exponent() > 0 {
		m := new(big.Int).Mul(d.Coefficient(), pow10(d.Exponent()))
		d = decimal.NewFromBigInt(m, 0)
	}
	return Amount{d: d}
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Mantissa returns the scaled integer as a decimal string.
func (a Amount) Mantissa() string {
	return a.d.Coefficient().String()
}

// Scale returns the number of fractional digits the mantissa is scaled by.
func (a Amount) Scale() int32 {
	return -a.d.Exponent()
}

// Key returns the exact representation "mantissa~scale" used as a map key
// by the peak-price index and the persisted bucket layout. Amounts with
// equal value but different scales produce different keys on purpose.
func (a Amount) Key() string {
	return fmt.Sprintf("%s~%d", a.Mantissa(), a.Scale())
}

// AmountFromKey is the inverse of Key.
func AmountFromKey(key string) (Amount, error) {
	mantissa, scaleStr, ok := strings.Cut(key, "~")
	if !ok {
		return Amount{}, fmt.Errorf("%w: amount key %q", ErrInvalidAmount, key)
	}
	var scale int32
	if _, err := fmt.Sscanf(scaleStr, "%d", &scale); err != nil {
		return Amount{}, fmt.Errorf("%w: amount key %q", ErrInvalidAmount, key)
	}
	return NewAmount(mantissa, scale)
}

// Rescale returns the same value expressed at the given scale. Scaling up
// multiplies the mantissa by a power of ten and is always lossless.
// Scaling down divides the mantissa and is only lossless when the dropped
// digits are zero; non-zero digits are truncated, so callers that need
// rounding must use Div instead.
func (a Amount) Rescale(scale int32) Amount {
	cur := a.Scale()
	switch {
	case scale == cur:
		return a
	case scale > cur:
		m := new(big.Int).Mul(a.d.Coefficient(), pow10(scale-cur))
		return Amount{d: decimal.NewFromBigInt(m, -scale)}
	default:
		m := new(big.Int).Quo(a.d.Coefficient(), pow10(cur-scale))
		return Amount{d: decimal.NewFromBigInt(m, -scale)}
	}
}

// rescalePair brings both operands to max(scaleA, scaleB) losslessly.
func rescalePair(a, b Amount) (Amount, Amount) {
	s := a.Scale()
	if bs := b.Scale(); bs > s {
		s = bs
	}
	return a.Rescale(s), b.Rescale(s)
}

// Add returns a + b at scale max(scaleA, scaleB).
func (a Amount) Add(b Amount) Amount {
	ra, rb := rescalePair(a, b)
	return Amount{d: ra.d.Add(rb.d)}
}

// Sub returns a - b at scale max(scaleA, scaleB).
func (a Amount) Sub(b Amount) Amount {
	ra, rb := rescalePair(a, b)
	return Amount{d: ra.d.Sub(rb.d)}
}

// Neg returns -a at the same scale.
func (a Amount) Neg() Amount {
	return Amount{d: a.d.Neg()}
}

// Mul returns a * b. Both operands are first rescaled to their common
// scale s; the product carries scale 2s, matching fixed-point semantics.
func (a Amount) Mul(b Amount) Amount {
	ra, rb := rescalePair(a, b)
	return Amount{d: ra.d.Mul(rb.d)}
}

// Div returns a / b rounded half away from zero at exactly targetScale
// fractional digits. Division is the only lossy operation and therefore
// requires the caller to choose the output scale explicitly.
func (a Amount) Div(b Amount, targetScale int32) (Amount, error) {
	if targetScale < 0 {
		return Amount{}, fmt.Errorf("%w: negative scale %d", ErrInvalidAmount, targetScale)
	}
	if b.d.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	q := a.d.DivRound(b.d, targetScale)
	return fromDecimal(q).Rescale(targetScale), nil
}

// Cmp compares values, returning -1, 0 or 1. Operands are compared by
// their rescaled mantissas as signed arbitrary-precision integers, so
// scale differences never affect the result.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// IsZero reports whether the value is exactly zero.
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// Sign returns -1, 0 or 1.
func (a Amount) Sign() int {
	return a.d.Sign()
}

// StrictEquals reports representation equality: same mantissa AND same
// scale. The ledger's dirty diff uses this, so a pure rescale marks a
// record dirty.
func (a Amount) StrictEquals(b Amount) bool {
	return a.Scale() == b.Scale() && a.d.Coefficient().Cmp(b.d.Coefficient()) == 0
}

// String returns the plain decimal form, e.g. "0.0000444". Suitable for
// logs and wire formats; use DisplayString for human-facing text.
func (a Amount) String() string {
	return a.d.String()
}

var subscriptDigits = []rune{'₀', '₁', '₂', '₃', '₄', '₅', '₆', '₇', '₈', '₉'}

// DisplayString renders the amount for human display: trailing fractional
// zeros are stripped, runs of leading fractional zeros collapse into a
// subscript count (0.000000444 -> 0.0₆444), the whole part gets thousands
// separators, and the fractional tail is capped at maxSigFigs digits by
// arithmetic rounding. The output is for display only and must never feed
// back into arithmetic or storage.
func (a Amount) DisplayString(maxSigFigs int) string {
	s := a.d.String()

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if !hasFrac {
		return sign + groupThousands(whole)
	}

	zeros := len(frac) - len(strings.TrimLeft(frac, "0"))
	rest := frac[zeros:]

	if len(rest) > maxSigFigs {
		rest = roundDigits(rest, maxSigFigs)
		if len(rest) > maxSigFigs {
			// Rounding carried into an extra digit (0.996 at two
			// figures becomes 1.00): the carry shifts one place
			// left, eating a leading zero or bumping the whole part.
			if zeros > 0 {
				zeros--
				rest = "1"
			} else {
				w, _ := new(big.Int).SetString(whole, 10)
				whole = w.Add(w, big.NewInt(1)).String()
				rest = ""
			}
		}
	}
	rest = strings.TrimRight(rest, "0")

	zeroPart := strings.Repeat("0", zeros)
	switch {
	case zeros > 1 && whole == "0" && rest != "":
		zeroPart = "0" + subscriptInt(zeros)
	case zeros > 1 && rest == "":
		zeroPart = "0"
	}

	if zeroPart == "" && rest == "" {
		return sign + groupThousands(whole)
	}
	return sign + groupThousands(whole) + "." + zeroPart + rest
}

// roundDigits rounds a digit string to n digits, half away from zero.
// A result longer than n digits means the round carried; the caller
// owns shifting the decimal point.
func roundDigits(digits string, n int) string {
	v, ok := new(big.Int).SetString(digits[:n+1], 10)
	if !ok {
		return digits[:n]
	}
	v.Add(v, big.NewInt(5))
	v.Quo(v, big.NewInt(10))
	return v.String()
}

func subscriptInt(n int) string {
	var b strings.Builder
	for _, c := range fmt.Sprintf("%d", n) {
		b.WriteRune(subscriptDigits[c-'0'])
	}
	return b.String()
}

func groupThousands(whole string) string {
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	if len(whole) <= 3 {
		return whole
	}
	var b strings.Builder
	lead := len(whole) % 3
	if lead > 0 {
		b.WriteString(whole[:lead])
	}
	for i := lead; i < len(whole); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(whole[i : i+3])
	}
	return b.String()
}

// amountJSON is the persisted wire form of an Amount. The mantissa rides
// as a string because it can exceed int64.
type amountJSON struct {
	Mantissa string `json:"amount"`
	Scale    int32  `json:"scale"`
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Mantissa: a.Mantissa(), Scale: a.Scale()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var w amountJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v, err := NewAmount(w.Mantissa, w.Scale)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// PercentDrop returns (peak - price) / peak * 100 at PercentScale,
// the quantity compared against a position's trigger percent. Returns
// zero when peak is zero.
func PercentDrop(peak, price Amount) Amount {
	frac, err := peak.Sub(price).Div(peak, PercentScale)
	if err != nil {
		return ZeroAmount()
	}
	return frac.Mul(AmountFromInt64(100))
}
