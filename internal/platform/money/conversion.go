package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// RoundingMode selects how a converted amount is clipped to a multiple of
// the tiny amount.
type RoundingMode int

const (
	RoundZero RoundingMode = iota
	RoundUp
	RoundNearest
)

func ParseRoundingMode(s string) (RoundingMode, error) {
	switch s {
	case "zero", "":
		return RoundZero, nil
	case "up":
		return RoundUp, nil
	case "nearest":
		return RoundNearest, nil
	}
	return 0, fmt.Errorf("%w: rounding mode %q", ErrMalformed, s)
}

var (
	ErrBelowMin        = errors.New("converted amount below minimum")
	ErrConversionEmpty = errors.New("conversion yields nothing")
)

// Ratio is a non-negative decimal scaled by FracBase, used for
// regional/fiat conversion factors like "0.97".
type Ratio uint64

// ParseRatio accepts "INT[.FRAC]" with up to 8 fractional digits.
func ParseRatio(s string) (Ratio, error) {
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" || (hasFrac && fracPart == "") || (hasFrac && len(fracPart) > MaxFracDigits) {
		return 0, fmt.Errorf("%w: ratio %q", ErrMalformed, s)
	}
	var units uint64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: ratio %q", ErrMalformed, s)
		}
		d := uint64(c - '0')
		if units > (math.MaxUint64/10-d)/10 {
			return 0, fmt.Errorf("%w: ratio %q", ErrOverflow, s)
		}
		units = units*10 + d
	}
	if units > math.MaxUint64/FracBase {
		return 0, fmt.Errorf("%w: ratio %q", ErrOverflow, s)
	}
	units *= FracBase
	if hasFrac {
		scale := uint64(FracBase / 10)
		for _, c := range fracPart {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("%w: ratio %q", ErrMalformed, s)
			}
			units += uint64(c-'0') * scale
			scale /= 10
		}
	}
	return Ratio(units), nil
}

func units(a Amount) *big.Int {
	u := new(big.Int).SetUint64(a.Val)
	u.Mul(u, big.NewInt(FracBase))
	return u.Add(u, new(big.Int).SetUint64(uint64(a.Frac)))
}

func fromUnits(u *big.Int, currency string) (Amount, error) {
	if u.Sign() < 0 {
		return Amount{}, ErrOverflow
	}
	q, r := new(big.Int).QuoRem(u, big.NewInt(FracBase), new(big.Int))
	if !q.IsUint64() {
		return Amount{}, ErrOverflow
	}
	return Amount{Val: q.Uint64(), Frac: uint32(r.Uint64()), Currency: currency}, nil
}

// roundToTiny clips scaled (an amount in sub-units further scaled by
// denom) to a multiple of tiny sub-units, honoring the rounding mode.
func roundToTiny(scaled, denom, tiny *big.Int, mode RoundingMode) *big.Int {
	step := new(big.Int).Mul(denom, tiny)
	q, r := new(big.Int).QuoRem(scaled, step, new(big.Int))
	bump := false
	switch mode {
	case RoundUp:
		bump = r.Sign() > 0
	case RoundNearest:
		bump = new(big.Int).Lsh(r, 1).Cmp(step) >= 0
	}
	if bump {
		q.Add(q, big.NewInt(1))
	}
	return q.Mul(q, tiny)
}

// ConversionSpec is the immutable configuration of one conversion
// direction (regional to fiat for cashouts, or the inverse).
type ConversionSpec struct {
	Ratio Ratio
	// Fee is charged in the output currency after applying the ratio.
	Fee Amount
	// Tiny is the smallest representable step of the output currency;
	// converted amounts are clipped to a multiple of it.
	Tiny Amount
	// Min rejects dust conversions.
	Min  Amount
	Mode RoundingMode
}

// Convert derives the output amount for a given input:
// out = in * ratio - fee, clipped to a multiple of Tiny.
func (c ConversionSpec) Convert(in Amount) (Amount, error) {
	if c.Tiny.IsZero() {
		return Amount{}, fmt.Errorf("%w: tiny amount unset", ErrMalformed)
	}
	scaled := units(in)
	scaled.Mul(scaled, new(big.Int).SetUint64(uint64(c.Ratio)))
	scaled.Sub(scaled, new(big.Int).Mul(units(c.Fee), big.NewInt(FracBase)))
	if scaled.Sign() <= 0 {
		return Amount{}, ErrConversionEmpty
	}
	out, err := fromUnits(roundToTiny(scaled, big.NewInt(FracBase), units(c.Tiny), c.Mode), c.Fee.Currency)
	if err != nil {
		return Amount{}, err
	}
	if c.belowMin(out) {
		return Amount{}, ErrBelowMin
	}
	return out, nil
}

// Invert derives the input that yields the given output:
// in = (out + fee) / ratio, clipped to a multiple of tiny in the input
// currency.
func (c ConversionSpec) Invert(out Amount, tinyIn Amount, inCurrency string) (Amount, error) {
	if c.Ratio == 0 {
		return Amount{}, fmt.Errorf("%w: zero ratio", ErrMalformed)
	}
	if tinyIn.IsZero() {
		return Amount{}, fmt.Errorf("%w: tiny amount unset", ErrMalformed)
	}
	if c.belowMin(out) {
		return Amount{}, ErrBelowMin
	}
	scaled, err := Add(out, c.Fee)
	if err != nil {
		return Amount{}, err
	}
	num := units(scaled)
	num.Mul(num, big.NewInt(FracBase))
	return fromUnits(roundToTiny(num, new(big.Int).SetUint64(uint64(c.Ratio)), units(tinyIn), c.Mode), inCurrency)
}

func (c ConversionSpec) belowMin(out Amount) bool {
	if c.Min.IsZero() {
		return false
	}
	cmp, err := Cmp(out, c.Min)
	return err == nil && cmp < 0
}
