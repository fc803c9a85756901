package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func mustParse(t *testing.T, s string) Amount {
	t.Helper()
	a, err := Parse(s, MaxFracDigits)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func TestParseRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		val  uint64
		frac uint32
		out  string
	}{
		{"KUDOS:0", 0, 0, "KUDOS:0"},
		{"KUDOS:10", 10, 0, "KUDOS:10"},
		{"EUR:1.5", 1, 50_000_000, "EUR:1.5"},
		{"EUR:0.00000001", 0, 1, "EUR:0.00000001"},
		{"CHF:4.20", 4, 20_000_000, "CHF:4.2"},
		{"TESTKUDOS:123.456", 123, 45_600_000, "TESTKUDOS:123.456"},
	}
	for _, c := range cases {
		a := mustParse(t, c.in)
		if a.Val != c.val || a.Frac != c.frac {
			t.Fatalf("parse %q: got val=%d frac=%d, want val=%d frac=%d", c.in, a.Val, a.Frac, c.val, c.frac)
		}
		if got := a.String(); got != c.out {
			t.Fatalf("string of %q: got %q, want %q", c.in, got, c.out)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"KUDOS",
		"KUDOS:",
		"KUDOS:1.",
		"KUDOS:.5",
		"kudos:1",
		"KUDOS:1,5",
		"KUDOS:-1",
		"TOOLONGCURRENCY:1",
		"KUDOS:1.2.3",
	}
	for _, s := range bad {
		if _, err := Parse(s, MaxFracDigits); err == nil {
			t.Fatalf("parse %q: expected error", s)
		}
	}
}

func TestParseFracDigitLimit(t *testing.T) {
	if _, err := Parse("EUR:1.001", 2); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for 3 frac digits at limit 2, got %v", err)
	}
	if _, err := Parse("EUR:1.01", 2); err != nil {
		t.Fatalf("2 frac digits at limit 2 should parse: %v", err)
	}
}

func TestParseIntegerOverflow(t *testing.T) {
	if _, err := Parse("KUDOS:18446744073709551616", MaxFracDigits); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	a := mustParse(t, "KUDOS:18446744073709551615")
	if a.Val != math.MaxUint64 {
		t.Fatalf("max uint64 should parse, got %d", a.Val)
	}
}

func TestNormalizeCarriesFraction(t *testing.T) {
	a, err := Amount{Val: 1, Frac: 2*FracBase + 5, Currency: "KUDOS"}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if a.Val != 3 || a.Frac != 5 {
		t.Fatalf("got val=%d frac=%d, want val=3 frac=5", a.Val, a.Frac)
	}

	if _, err := (Amount{Val: math.MaxUint64, Frac: FracBase, Currency: "KUDOS"}).Normalize(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow on carry past max, got %v", err)
	}
}

func TestAddSubCmp(t *testing.T) {
	a := mustParse(t, "KUDOS:1.5")
	b := mustParse(t, "KUDOS:2.75")

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.String() != "KUDOS:4.25" {
		t.Fatalf("add got %s", sum)
	}

	diff, err := Sub(b, a)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.String() != "KUDOS:1.25" {
		t.Fatalf("sub got %s", diff)
	}

	if _, err := Sub(a, b); !errors.Is(err, ErrOverflow) {
		t.Fatalf("negative sub should fail, got %v", err)
	}

	c, err := Cmp(a, b)
	if err != nil || c != -1 {
		t.Fatalf("cmp got %d err=%v, want -1", c, err)
	}
	c, _ = Cmp(b, a)
	if c != 1 {
		t.Fatalf("cmp got %d, want 1", c)
	}
	c, _ = Cmp(a, a)
	if c != 0 {
		t.Fatalf("cmp got %d, want 0", c)
	}
}

func TestCurrencyMismatchFailsClosed(t *testing.T) {
	a := mustParse(t, "KUDOS:1")
	b := mustParse(t, "EUR:1")
	if _, err := Add(a, b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("add: expected currency mismatch, got %v", err)
	}
	if _, err := Sub(a, b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("sub: expected currency mismatch, got %v", err)
	}
	if _, _, err := Debit(a, false, b, Zero("KUDOS")); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("debit: expected currency mismatch, got %v", err)
	}
}

func TestAddOverflow(t *testing.T) {
	a := Amount{Val: math.MaxUint64, Currency: "KUDOS"}
	b := mustParse(t, "KUDOS:1")
	if _, err := Add(a, b); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	// Frac carry alone can push past max too.
	c := Amount{Val: math.MaxUint64, Frac: FracBase - 1, Currency: "KUDOS"}
	d := Amount{Frac: 1, Currency: "KUDOS"}
	if _, err := Add(c, d); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow on frac carry, got %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	in := mustParse(t, "KUDOS:12.34")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"KUDOS:12.34"` {
		t.Fatalf("marshal got %s", data)
	}
	var out Amount
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip got %+v, want %+v", out, in)
	}
	if err := json.Unmarshal([]byte(`42`), &out); err == nil {
		t.Fatalf("non-string amount should fail")
	}
}

func TestDebitWithinBalance(t *testing.T) {
	res, ok, err := Debit(mustParse(t, "EUR:10"), false, mustParse(t, "EUR:3"), Zero("EUR"))
	if err != nil || !ok {
		t.Fatalf("debit err=%v ok=%v", err, ok)
	}
	if res.HasDebt || res.Balance.String() != "EUR:7" {
		t.Fatalf("got balance=%s debt=%v", res.Balance, res.HasDebt)
	}
}

func TestDebitIntoDebtWithinLimit(t *testing.T) {
	res, ok, err := Debit(mustParse(t, "EUR:2"), false, mustParse(t, "EUR:5"), mustParse(t, "EUR:10"))
	if err != nil || !ok {
		t.Fatalf("debit err=%v ok=%v", err, ok)
	}
	if !res.HasDebt || res.Balance.String() != "EUR:3" {
		t.Fatalf("got balance=%s debt=%v, want debt of EUR:3", res.Balance, res.HasDebt)
	}
}

func TestDebitBeyondLimitDenied(t *testing.T) {
	_, ok, err := Debit(mustParse(t, "EUR:2"), false, mustParse(t, "EUR:5"), mustParse(t, "EUR:2"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if ok {
		t.Fatalf("debit past limit should be denied")
	}

	// Already in debt at the limit.
	_, ok, err = Debit(mustParse(t, "EUR:10"), true, mustParse(t, "EUR:1"), mustParse(t, "EUR:10"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if ok {
		t.Fatalf("deepening debt past limit should be denied")
	}
}

func TestCreditClearsDebt(t *testing.T) {
	// EUR:3 in debt, EUR:5 incoming leaves EUR:2 positive.
	res, err := Credit(mustParse(t, "EUR:3"), true, mustParse(t, "EUR:5"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if res.HasDebt || res.Balance.String() != "EUR:2" {
		t.Fatalf("got balance=%s debt=%v", res.Balance, res.HasDebt)
	}

	// EUR:5 in debt, EUR:3 incoming leaves EUR:2 of debt.
	res, err = Credit(mustParse(t, "EUR:5"), true, mustParse(t, "EUR:3"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !res.HasDebt || res.Balance.String() != "EUR:2" {
		t.Fatalf("got balance=%s debt=%v, want EUR:2 of debt", res.Balance, res.HasDebt)
	}

	// Exact repayment lands on positive zero.
	res, err = Credit(mustParse(t, "EUR:5"), true, mustParse(t, "EUR:5"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if res.HasDebt || !res.Balance.IsZero() {
		t.Fatalf("got balance=%s debt=%v, want zero without debt", res.Balance, res.HasDebt)
	}
}

func TestCheckFracDigits(t *testing.T) {
	if err := CheckFracDigits(mustParse(t, "EUR:96.01"), FiatFracDigits); err != nil {
		t.Fatalf("two digits: %v", err)
	}
	if err := CheckFracDigits(mustParse(t, "EUR:96"), FiatFracDigits); err != nil {
		t.Fatalf("integer amount: %v", err)
	}
	if err := CheckFracDigits(mustParse(t, "EUR:96.001"), FiatFracDigits); !errors.Is(err, ErrMalformed) {
		t.Fatalf("three digits: got %v", err)
	}
	// Out-of-range limits fall back to the full precision.
	if err := CheckFracDigits(mustParse(t, "KUDOS:0.00000001"), 0); err != nil {
		t.Fatalf("limit 0: %v", err)
	}
}
