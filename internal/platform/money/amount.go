package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// FracBase is the number of sub-units per major unit. Frac is always kept
// in [0, FracBase); arithmetic that produces a larger fraction rolls the
// excess into Val.
const FracBase = 100_000_000

// MaxFracDigits is the highest fractional precision an amount string may
// carry. Fiat rails restrict inputs to FiatFracDigits instead.
const (
	MaxFracDigits  = 8
	FiatFracDigits = 2
)

var (
	ErrMalformed        = errors.New("malformed amount")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrOverflow         = errors.New("amount overflow")
)

// Amount is a fixed-point currency value. The zero value is not a valid
// amount; construct through Parse or New.
type Amount struct {
	Val      uint64
	Frac     uint32
	Currency string
}

func New(currency string, val uint64, frac uint32) (Amount, error) {
	if !validCurrency(currency) {
		return Amount{}, fmt.Errorf("%w: bad currency %q", ErrMalformed, currency)
	}
	a := Amount{Val: val, Frac: frac, Currency: currency}
	return a.Normalize()
}

func Zero(currency string) Amount {
	return Amount{Currency: currency}
}

// Parse accepts "CURRENCY:INT[.FRAC]". maxFracDigits limits the accepted
// fractional precision (2 for fiat rails, 8 for the regional currency).
func Parse(s string, maxFracDigits int) (Amount, error) {
	if maxFracDigits <= 0 || maxFracDigits > MaxFracDigits {
		maxFracDigits = MaxFracDigits
	}
	cur, rest, ok := strings.Cut(s, ":")
	if !ok || !validCurrency(cur) {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	intPart, fracPart, hasFrac := strings.Cut(rest, ".")
	if intPart == "" || (hasFrac && fracPart == "") {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	var val uint64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return Amount{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		d := uint64(c - '0')
		if val > (math.MaxUint64-d)/10 {
			return Amount{}, fmt.Errorf("%w: %q", ErrOverflow, s)
		}
		val = val*10 + d
	}

	var frac uint32
	if hasFrac {
		if len(fracPart) > maxFracDigits {
			return Amount{}, fmt.Errorf("%w: %q exceeds %d fractional digits", ErrMalformed, s, maxFracDigits)
		}
		scale := uint32(FracBase / 10)
		for _, c := range fracPart {
			if c < '0' || c > '9' {
				return Amount{}, fmt.Errorf("%w: %q", ErrMalformed, s)
			}
			frac += uint32(c-'0') * scale
			scale /= 10
		}
	}
	return Amount{Val: val, Frac: frac, Currency: cur}, nil
}

// CheckFracDigits fails when an amount carries more fractional digits
// than the rail accepts. Parse enforces this for strings; amounts
// arriving through JSON need the check applied where the rail is known.
func CheckFracDigits(a Amount, maxFracDigits int) error {
	if maxFracDigits <= 0 || maxFracDigits > MaxFracDigits {
		maxFracDigits = MaxFracDigits
	}
	step := uint32(1)
	for i := maxFracDigits; i < MaxFracDigits; i++ {
		step *= 10
	}
	if a.Frac%step != 0 {
		return fmt.Errorf("%w: %s exceeds %d fractional digits", ErrMalformed, a, maxFracDigits)
	}
	return nil
}

func validCurrency(c string) bool {
	if len(c) < 1 || len(c) > 11 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Normalize folds Frac overflow into Val, failing instead of wrapping.
func (a Amount) Normalize() (Amount, error) {
	carry := uint64(a.Frac) / FracBase
	if carry > 0 {
		if a.Val > math.MaxUint64-carry {
			return Amount{}, ErrOverflow
		}
		a.Val += carry
		a.Frac %= FracBase
	}
	return a, nil
}

func (a Amount) IsZero() bool {
	return a.Val == 0 && a.Frac == 0
}

// Add fails on currency mismatch or carry beyond uint64 range.
func Add(a, b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	frac := uint64(a.Frac) + uint64(b.Frac)
	carry := frac / FracBase
	if a.Val > math.MaxUint64-b.Val {
		return Amount{}, ErrOverflow
	}
	val := a.Val + b.Val
	if val > math.MaxUint64-carry {
		return Amount{}, ErrOverflow
	}
	return Amount{Val: val + carry, Frac: uint32(frac % FracBase), Currency: a.Currency}, nil
}

// Sub computes a-b and fails when the result would be negative.
func Sub(a, b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	val, frac := a.Val, a.Frac
	if frac < b.Frac {
		if val == 0 {
			return Amount{}, ErrOverflow
		}
		val--
		frac += FracBase
	}
	if val < b.Val {
		return Amount{}, ErrOverflow
	}
	return Amount{Val: val - b.Val, Frac: frac - b.Frac, Currency: a.Currency}, nil
}

// Cmp orders two amounts of the same currency.
func Cmp(a, b Amount) (int, error) {
	if a.Currency != b.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	switch {
	case a.Val != b.Val:
		if a.Val < b.Val {
			return -1, nil
		}
		return 1, nil
	case a.Frac != b.Frac:
		if a.Frac < b.Frac {
			return -1, nil
		}
		return 1, nil
	}
	return 0, nil
}

// String renders "CURRENCY:VALUE[.FRAC]" with trailing fraction zeroes
// trimmed and no separator when the fraction is zero.
func (a Amount) String() string {
	if a.Frac == 0 {
		return fmt.Sprintf("%s:%d", a.Currency, a.Val)
	}
	frac := strings.TrimRight(fmt.Sprintf("%08d", a.Frac), "0")
	return fmt.Sprintf("%s:%d.%s", a.Currency, a.Val, frac)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: not a string", ErrMalformed)
	}
	parsed, err := Parse(string(data[1:len(data)-1]), MaxFracDigits)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DebitResult is the signed balance left after a debit.
type DebitResult struct {
	Balance Amount
	HasDebt bool
}

// Debit applies due against a signed balance encoded as (balance, hasDebt)
// and reports whether the debt stays within maxDebt. The returned state is
// only meaningful when ok is true.
func Debit(balance Amount, hasDebt bool, due, maxDebt Amount) (DebitResult, bool, error) {
	if hasDebt {
		nb, err := Add(balance, due)
		if err != nil {
			return DebitResult{}, false, err
		}
		c, err := Cmp(nb, maxDebt)
		if err != nil {
			return DebitResult{}, false, err
		}
		return DebitResult{Balance: nb, HasDebt: true}, c <= 0, nil
	}
	c, err := Cmp(balance, due)
	if err != nil {
		return DebitResult{}, false, err
	}
	if c >= 0 {
		nb, err := Sub(balance, due)
		if err != nil {
			return DebitResult{}, false, err
		}
		return DebitResult{Balance: nb, HasDebt: false}, true, nil
	}
	nb, err := Sub(due, balance)
	if err != nil {
		return DebitResult{}, false, err
	}
	c, err = Cmp(nb, maxDebt)
	if err != nil {
		return DebitResult{}, false, err
	}
	return DebitResult{Balance: nb, HasDebt: true}, c <= 0, nil
}

// Credit applies an incoming amount to a signed balance.
func Credit(balance Amount, hasDebt bool, in Amount) (DebitResult, error) {
	if !hasDebt {
		nb, err := Add(balance, in)
		if err != nil {
			return DebitResult{}, err
		}
		return DebitResult{Balance: nb, HasDebt: false}, nil
	}
	c, err := Cmp(balance, in)
	if err != nil {
		return DebitResult{}, err
	}
	if c > 0 {
		nb, err := Sub(balance, in)
		if err != nil {
			return DebitResult{}, err
		}
		return DebitResult{Balance: nb, HasDebt: true}, nil
	}
	nb, err := Sub(in, balance)
	if err != nil {
		return DebitResult{}, err
	}
	return DebitResult{Balance: nb, HasDebt: false}, nil
}
