package bank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/regiobank/bankd/internal/platform/money"
)

type fixedClock struct {
	now time.Time
}

func (f *fixedClock) Now() time.Time {
	return f.now
}

func testAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s, money.MaxFracDigits)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func testPayto(username string) string {
	return "payto://x-taler-bank/bank.test/" + username
}

func newTestLedger(t *testing.T, currency string) (*LedgerService, *fixedClock) {
	t.Helper()
	clk := &fixedClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	svc := NewLedgerService(clk, zerolog.Nop(), LedgerConfig{
		Currency:       currency,
		PaytoHost:      "bank.test",
		AdminDebtLimit: testAmount(t, currency+":1000000"),
	})
	if _, _, err := svc.RegisterAccount(context.Background(), AccountSpec{
		Username:     AdminUsername,
		PasswordHash: "hash",
		Name:         "Bank",
	}); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	return svc, clk
}

func registerTestAccount(t *testing.T, svc *LedgerService, spec AccountSpec) Account {
	t.Helper()
	if spec.PasswordHash == "" {
		spec.PasswordHash = "hash"
	}
	acct, _, err := svc.RegisterAccount(context.Background(), spec)
	if err != nil {
		t.Fatalf("register %s: %v", spec.Username, err)
	}
	return acct
}

// fund moves money from the admin account, which carries the large debt
// limit, into a customer account.
func fund(t *testing.T, svc *LedgerService, username, amount string) {
	t.Helper()
	if _, err := svc.CreateInternalTransfer(context.Background(), AdminUsername, testPayto(username), "seed", testAmount(t, amount)); err != nil {
		t.Fatalf("fund %s with %s: %v", username, amount, err)
	}
}

func balanceOf(t *testing.T, svc *LedgerService, username string) (money.Amount, bool) {
	t.Helper()
	acct, err := svc.Account(context.Background(), username)
	if err != nil {
		t.Fatalf("account %s: %v", username, err)
	}
	return acct.Balance, acct.HasDebt
}

func TestInternalTransferMovesFunds(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob"})
	fund(t, svc, "alice", "EUR:10")

	res, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("bob"), "rent", testAmount(t, "EUR:3"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.DebitRow.TransferID != res.CreditRow.TransferID {
		t.Fatalf("both rows must share a transfer id; got %d and %d", res.DebitRow.TransferID, res.CreditRow.TransferID)
	}
	if res.DebitRow.Direction != DirectionDebit || res.CreditRow.Direction != DirectionCredit {
		t.Fatalf("row directions wrong: %s / %s", res.DebitRow.Direction, res.CreditRow.Direction)
	}

	bal, debt := balanceOf(t, svc, "alice")
	if debt || bal.String() != "EUR:7" {
		t.Fatalf("alice balance got %s debt=%v, want EUR:7", bal, debt)
	}
	bal, debt = balanceOf(t, svc, "bob")
	if debt || bal.String() != "EUR:3" {
		t.Fatalf("bob balance got %s debt=%v, want EUR:3", bal, debt)
	}
}

func TestInternalTransferInsufficientFunds(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob"})

	_, err := svc.CreateInternalTransfer(context.Background(), "bob", testPayto("alice"), "x", testAmount(t, "EUR:5"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	bal, debt := balanceOf(t, svc, "bob")
	if debt || !bal.IsZero() {
		t.Fatalf("denied transfer must not move funds; bob has %s debt=%v", bal, debt)
	}
}

func TestInternalTransferDebtLimit(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	limit := testAmount(t, "EUR:5")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice", DebtLimit: &limit})
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob"})

	if _, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("bob"), "ok", testAmount(t, "EUR:5")); err != nil {
		t.Fatalf("transfer within debt limit: %v", err)
	}
	bal, debt := balanceOf(t, svc, "alice")
	if !debt || bal.String() != "EUR:5" {
		t.Fatalf("alice should owe EUR:5; got %s debt=%v", bal, debt)
	}

	_, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("bob"), "too much", testAmount(t, "EUR:0.01"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds past the limit, got %v", err)
	}
}

func TestInternalTransferValidation(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	fund(t, svc, "alice", "EUR:10")

	if _, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("alice"), "self", testAmount(t, "EUR:1")); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("self transfer: got %v", err)
	}
	if _, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("nobody"), "x", testAmount(t, "EUR:1")); !errors.Is(err, ErrNoCreditor) {
		t.Fatalf("unknown creditor: got %v", err)
	}
	if _, err := svc.CreateInternalTransfer(context.Background(), "ghost", testPayto("alice"), "x", testAmount(t, "EUR:1")); !errors.Is(err, ErrNoDebtor) {
		t.Fatalf("unknown debtor: got %v", err)
	}
	if _, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("alice"), "x", testAmount(t, "USD:1")); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Fatalf("wrong currency: got %v", err)
	}
	if _, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("alice"), "x", money.Zero("EUR")); !errors.Is(err, money.ErrMalformed) {
		t.Fatalf("zero amount: got %v", err)
	}
}

func newExchangeLedger(t *testing.T) *LedgerService {
	t.Helper()
	svc, _ := newTestLedger(t, "KUDOS")
	registerTestAccount(t, svc, AccountSpec{Username: "exchange", Name: "Exchange", IsTalerExchange: true})
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	fund(t, svc, "exchange", "KUDOS:1000")
	fund(t, svc, "alice", "KUDOS:100")
	return svc
}

func TestExchangeTransferIdempotency(t *testing.T) {
	svc := newExchangeLedger(t)
	req := ExchangeTransferRequest{
		RequesterUsername: "exchange",
		RequestUID:        "uid-1",
		Amount:            testAmount(t, "KUDOS:25"),
		ExchangeBaseURL:   "https://exchange.test/",
		WTID:              "WTID1",
		CreditPayto:       testPayto("alice"),
	}

	first, err := svc.ExchangeTransfer(context.Background(), req)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := svc.ExchangeTransfer(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.DebitRow.ID != second.DebitRow.ID {
		t.Fatalf("replay must return the original rows; got %d and %d", first.DebitRow.ID, second.DebitRow.ID)
	}
	bal, _ := balanceOf(t, svc, "alice")
	if bal.String() != "KUDOS:125" {
		t.Fatalf("credit applied more than once; alice has %s", bal)
	}

	req.WTID = "WTID-OTHER"
	if _, err := svc.ExchangeTransfer(context.Background(), req); !errors.Is(err, ErrRequestUIDReuse) {
		t.Fatalf("divergent replay: got %v", err)
	}
}

func TestExchangeTransferPartyChecks(t *testing.T) {
	svc := newExchangeLedger(t)
	registerTestAccount(t, svc, AccountSpec{Username: "exchangetwo", Name: "Other", IsTalerExchange: true})

	req := ExchangeTransferRequest{
		RequesterUsername: "alice",
		RequestUID:        "uid-2",
		Amount:            testAmount(t, "KUDOS:1"),
		WTID:              "W",
		CreditPayto:       testPayto("alice"),
	}
	if _, err := svc.ExchangeTransfer(context.Background(), req); !errors.Is(err, ErrNotAnExchange) {
		t.Fatalf("non-exchange requester: got %v", err)
	}

	req.RequesterUsername = "exchange"
	req.CreditPayto = testPayto("exchangetwo")
	if _, err := svc.ExchangeTransfer(context.Background(), req); !errors.Is(err, ErrBothPartyAreExchange) {
		t.Fatalf("exchange-to-exchange: got %v", err)
	}

	req.CreditPayto = testPayto("nobody")
	if _, err := svc.ExchangeTransfer(context.Background(), req); !errors.Is(err, ErrUnknownCreditor) {
		t.Fatalf("unknown creditor: got %v", err)
	}
}

func TestAddIncomingReserveUniqueness(t *testing.T) {
	svc := newExchangeLedger(t)
	req := AddIncomingRequest{
		RequesterUsername: "exchange",
		ReservePub:        "RESERVE1",
		Amount:            testAmount(t, "KUDOS:10"),
		DebitPayto:        testPayto("alice"),
	}

	first, err := svc.ExchangeAddIncoming(context.Background(), req)
	if err != nil {
		t.Fatalf("add incoming: %v", err)
	}
	second, err := svc.ExchangeAddIncoming(context.Background(), req)
	if err != nil {
		t.Fatalf("identical replay must succeed: %v", err)
	}
	if first.CreditRow.ID != second.CreditRow.ID {
		t.Fatalf("replay returned different rows: %d and %d", first.CreditRow.ID, second.CreditRow.ID)
	}

	req.Amount = testAmount(t, "KUDOS:11")
	if _, err := svc.ExchangeAddIncoming(context.Background(), req); !errors.Is(err, ErrReservePubReuse) {
		t.Fatalf("divergent reserve reuse: got %v", err)
	}
	if !svc.ReservePubUsed("RESERVE1") {
		t.Fatalf("reserve must be recorded as used")
	}
}

func TestWithdrawalTransferRejectsUsedReserve(t *testing.T) {
	svc := newExchangeLedger(t)
	if _, err := svc.ExchangeAddIncoming(context.Background(), AddIncomingRequest{
		RequesterUsername: "exchange",
		ReservePub:        "RESERVE1",
		Amount:            testAmount(t, "KUDOS:10"),
		DebitPayto:        testPayto("alice"),
	}); err != nil {
		t.Fatalf("add incoming: %v", err)
	}

	if _, err := svc.WithdrawalTransfer(context.Background(), "alice", testPayto("exchange"), "RESERVE1", testAmount(t, "KUDOS:5")); !errors.Is(err, ErrReservePubReuse) {
		t.Fatalf("used reserve: got %v", err)
	}
	if _, err := svc.WithdrawalTransfer(context.Background(), "alice", testPayto("alice"), "RESERVE2", testAmount(t, "KUDOS:5")); !errors.Is(err, ErrAccountIsNotExchange) {
		t.Fatalf("non-exchange creditor: got %v", err)
	}
	if _, err := svc.WithdrawalTransfer(context.Background(), "alice", testPayto("exchange"), "RESERVE2", testAmount(t, "KUDOS:5")); err != nil {
		t.Fatalf("fresh reserve: %v", err)
	}
}

func TestHistoryPaging(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	fund(t, svc, "alice", "EUR:100")
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob"})
	for i := 0; i < 5; i++ {
		if _, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("bob"), "p", testAmount(t, "EUR:1")); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}

	// Alice has 6 rows: the seed credit plus five debits.
	all, err := svc.History(context.Background(), "alice", 0, 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("forward paging must be ascending; ids %d then %d", all[i-1].ID, all[i].ID)
		}
	}

	page, err := svc.History(context.Background(), "alice", all[1].ID, 2)
	if err != nil {
		t.Fatalf("history page: %v", err)
	}
	if len(page) != 2 || page[0].ID != all[2].ID {
		t.Fatalf("forward page after id %d wrong: %+v", all[1].ID, page)
	}

	back, err := svc.History(context.Background(), "alice", 0, -3)
	if err != nil {
		t.Fatalf("backward history: %v", err)
	}
	if len(back) != 3 || back[0].ID != all[5].ID || back[2].ID != all[3].ID {
		t.Fatalf("backward page from latest wrong: %+v", back)
	}

	if _, err := svc.History(context.Background(), "alice", 0, 0); err == nil {
		t.Fatalf("zero delta must be rejected")
	}
	if _, err := svc.History(context.Background(), "ghost", 0, 10); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unknown account: got %v", err)
	}
}

func TestWireGatewayHistoryFilters(t *testing.T) {
	svc := newExchangeLedger(t)
	if _, err := svc.ExchangeAddIncoming(context.Background(), AddIncomingRequest{
		RequesterUsername: "exchange",
		ReservePub:        "RESERVE1",
		Amount:            testAmount(t, "KUDOS:10"),
		DebitPayto:        testPayto("alice"),
	}); err != nil {
		t.Fatalf("add incoming: %v", err)
	}
	if _, err := svc.ExchangeTransfer(context.Background(), ExchangeTransferRequest{
		RequesterUsername: "exchange",
		RequestUID:        "uid-1",
		Amount:            testAmount(t, "KUDOS:5"),
		ExchangeBaseURL:   "https://exchange.test/",
		WTID:              "W1",
		CreditPayto:       testPayto("alice"),
	}); err != nil {
		t.Fatalf("exchange transfer: %v", err)
	}

	in, err := svc.IncomingHistory(context.Background(), "exchange", 0, 10)
	if err != nil {
		t.Fatalf("incoming history: %v", err)
	}
	if len(in) != 1 || in[0].ReservePub != "RESERVE1" {
		t.Fatalf("incoming history wrong: %+v", in)
	}
	out, err := svc.OutgoingHistory(context.Background(), "exchange", 0, 10)
	if err != nil {
		t.Fatalf("outgoing history: %v", err)
	}
	if len(out) != 1 || out[0].RequestUID != "uid-1" {
		t.Fatalf("outgoing history wrong: %+v", out)
	}
}

func TestTransactionByIDScoped(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob"})
	fund(t, svc, "alice", "EUR:10")
	res, err := svc.CreateInternalTransfer(context.Background(), "alice", testPayto("bob"), "x", testAmount(t, "EUR:1"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	got, err := svc.TransactionByID(context.Background(), "alice", res.DebitRow.ID)
	if err != nil {
		t.Fatalf("own row: %v", err)
	}
	if got.Direction != DirectionDebit {
		t.Fatalf("got %s row", got.Direction)
	}
	if _, err := svc.TransactionByID(context.Background(), "alice", res.CreditRow.ID); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("foreign row must be invisible: got %v", err)
	}
	if _, err := svc.TransactionByID(context.Background(), "alice", 9999); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("out of range: got %v", err)
	}
}

func TestRegisterAccountIdempotent(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	spec := AccountSpec{Username: "alice", PasswordHash: "hash", Name: "Alice"}

	_, created, err := svc.RegisterAccount(context.Background(), spec)
	if err != nil || !created {
		t.Fatalf("first register: created=%v err=%v", created, err)
	}
	_, created, err = svc.RegisterAccount(context.Background(), spec)
	if err != nil || created {
		t.Fatalf("identical re-register must be a no-op: created=%v err=%v", created, err)
	}

	spec.Name = "Someone Else"
	if _, _, err := svc.RegisterAccount(context.Background(), spec); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("divergent re-register: got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob"})
	fund(t, svc, "alice", "EUR:5")

	if err := svc.DeleteAccount(context.Background(), AdminUsername); !errors.Is(err, ErrAccountProtected) {
		t.Fatalf("admin delete: got %v", err)
	}
	if err := svc.DeleteAccount(context.Background(), "alice"); !errors.Is(err, ErrBalanceNonzero) {
		t.Fatalf("nonzero balance: got %v", err)
	}
	if err := svc.DeleteAccount(context.Background(), "bob"); err != nil {
		t.Fatalf("delete bob: %v", err)
	}
	if _, err := svc.Account(context.Background(), "bob"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("deleted account still visible: %v", err)
	}
	// The payto slot is free again.
	registerTestAccount(t, svc, AccountSpec{Username: "bob", Name: "Bob II"})
}

func TestPatchAccount(t *testing.T) {
	svc, _ := newTestLedger(t, "EUR")
	registerTestAccount(t, svc, AccountSpec{Username: "alice", Name: "Alice"})

	name := "Alice B"
	public := true
	phone := "+4912345"
	acct, err := svc.PatchAccount(context.Background(), "alice", AccountPatch{Name: &name, IsPublic: &public, Phone: &phone})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if acct.Name != name || !acct.IsPublic || acct.Phone != phone {
		t.Fatalf("patch not applied: %+v", acct)
	}

	pub := svc.PublicAccounts(context.Background())
	if len(pub) != 1 || pub[0].Username != "alice" {
		t.Fatalf("public listing wrong: %+v", pub)
	}

	badLimit := testAmount(t, "USD:1")
	if _, err := svc.PatchAccount(context.Background(), "alice", AccountPatch{DebtLimit: &badLimit}); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Fatalf("cross-currency debt limit: got %v", err)
	}
}

func TestPgUintKeepsFullRange(t *testing.T) {
	v := uint64(1) << 63
	if got := pgUint(v); got != "9223372036854775808" {
		t.Fatalf("pgUint(%d) = %q", v, got)
	}
	if got := pgUint(^uint64(0)); got != "18446744073709551615" {
		t.Fatalf("max uint64 rendered %q", got)
	}
}
