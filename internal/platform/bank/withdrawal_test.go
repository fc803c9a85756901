package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestWithdrawals(t *testing.T) (*WithdrawalService, *LedgerService) {
	t.Helper()
	ledger := newExchangeLedger(t)
	svc := NewWithdrawalService(ledger.Clock, ledger, zerolog.Nop())
	return svc, ledger
}

func TestWithdrawalLifecycle(t *testing.T) {
	svc, ledger := newTestWithdrawals(t)
	ctx := context.Background()

	op, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:20"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if op.Status() != WithdrawalPending {
		t.Fatalf("fresh operation status %s", op.Status())
	}

	op, err = svc.Select(ctx, op.UUID, testPayto("exchange"), "RESERVEW1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if op.Status() != WithdrawalSelected {
		t.Fatalf("selected operation status %s", op.Status())
	}

	// The wallet balance is untouched until confirmation.
	bal, _ := balanceOf(t, ledger, "alice")
	if bal.String() != "KUDOS:100" {
		t.Fatalf("selection must not move funds; alice has %s", bal)
	}

	op, err = svc.Confirm(ctx, op.UUID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if op.Status() != WithdrawalConfirmed {
		t.Fatalf("confirmed operation status %s", op.Status())
	}
	bal, _ = balanceOf(t, ledger, "alice")
	if bal.String() != "KUDOS:80" {
		t.Fatalf("alice balance after confirm: %s", bal)
	}

	// Repeated confirmation is a no-op; the transfer posts once.
	if _, err := svc.Confirm(ctx, op.UUID); err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	bal, _ = balanceOf(t, ledger, "alice")
	if bal.String() != "KUDOS:80" {
		t.Fatalf("repeat confirm moved funds again; alice has %s", bal)
	}
	if !ledger.ReservePubUsed("RESERVEW1") {
		t.Fatalf("reserve must be burned after confirmation")
	}
}

func TestWithdrawalSelectIdempotency(t *testing.T) {
	svc, _ := newTestWithdrawals(t)
	ctx := context.Background()

	op, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("exchange"), "RESERVEW2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("exchange"), "RESERVEW2"); err != nil {
		t.Fatalf("identical re-selection must succeed: %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("exchange"), "OTHER"); !errors.Is(err, ErrAlreadySelected) {
		t.Fatalf("conflicting re-selection: got %v", err)
	}
}

func TestWithdrawalReserveClaims(t *testing.T) {
	svc, ledger := newTestWithdrawals(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Select(ctx, first.UUID, testPayto("exchange"), "RESERVEW3"); err != nil {
		t.Fatalf("select first: %v", err)
	}
	if _, err := svc.Select(ctx, second.UUID, testPayto("exchange"), "RESERVEW3"); !errors.Is(err, ErrReservePubReuse) {
		t.Fatalf("claimed reserve: got %v", err)
	}

	// Aborting the first frees the claim for the second.
	if _, err := svc.Abort(ctx, first.UUID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := svc.Select(ctx, second.UUID, testPayto("exchange"), "RESERVEW3"); err != nil {
		t.Fatalf("select after release: %v", err)
	}

	// A reserve already in the ledger is rejected at selection.
	if _, err := ledger.ExchangeAddIncoming(ctx, AddIncomingRequest{
		RequesterUsername: "exchange",
		ReservePub:        "RESERVEUSED",
		Amount:            testAmount(t, "KUDOS:1"),
		DebitPayto:        testPayto("alice"),
	}); err != nil {
		t.Fatalf("add incoming: %v", err)
	}
	third, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Select(ctx, third.UUID, testPayto("exchange"), "RESERVEUSED"); !errors.Is(err, ErrReservePubReuse) {
		t.Fatalf("ledger reserve: got %v", err)
	}
}

func TestWithdrawalSelectExchangeChecks(t *testing.T) {
	svc, _ := newTestWithdrawals(t)
	ctx := context.Background()

	op, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("nobody"), "R1"); !errors.Is(err, ErrExchangeAccountBogus) {
		t.Fatalf("unknown exchange: got %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("alice"), "R1"); !errors.Is(err, ErrAccountIsNotExchange) {
		t.Fatalf("non-exchange account: got %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, "", "R1"); err == nil {
		t.Fatalf("empty exchange must be rejected")
	}
}

func TestWithdrawalAbortTransitions(t *testing.T) {
	svc, ledger := newTestWithdrawals(t)
	ctx := context.Background()

	op, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("exchange"), "RESERVEW4"); err != nil {
		t.Fatalf("select: %v", err)
	}

	aborted, err := svc.Abort(ctx, op.UUID)
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if aborted.Status() != WithdrawalAborted {
		t.Fatalf("status after abort: %s", aborted.Status())
	}
	if _, err := svc.Abort(ctx, op.UUID); err != nil {
		t.Fatalf("repeat abort must be a no-op: %v", err)
	}
	if _, err := svc.Confirm(ctx, op.UUID); !errors.Is(err, ErrWithdrawalAborted) {
		t.Fatalf("confirm after abort: got %v", err)
	}
	if _, err := svc.Select(ctx, op.UUID, testPayto("exchange"), "OTHER"); !errors.Is(err, ErrWithdrawalAborted) {
		t.Fatalf("select after abort: got %v", err)
	}
	bal, _ := balanceOf(t, ledger, "alice")
	if bal.String() != "KUDOS:100" {
		t.Fatalf("abort must not move funds; alice has %s", bal)
	}

	// Confirmed operations cannot be aborted.
	done, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Select(ctx, done.UUID, testPayto("exchange"), "RESERVEW5"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := svc.Confirm(ctx, done.UUID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Abort(ctx, done.UUID); !errors.Is(err, ErrWithdrawalConfirmed) {
		t.Fatalf("abort after confirm: got %v", err)
	}
}

func TestWithdrawalConfirmRequiresSelection(t *testing.T) {
	svc, _ := newTestWithdrawals(t)
	ctx := context.Background()

	op, err := svc.Create(ctx, "alice", testAmount(t, "KUDOS:5"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Confirm(ctx, op.UUID); !errors.Is(err, ErrNotSelected) {
		t.Fatalf("unselected confirm: got %v", err)
	}
}

func TestWithdrawalCreateRejectsExchangeAccounts(t *testing.T) {
	svc, _ := newTestWithdrawals(t)
	if _, err := svc.Create(context.Background(), "exchange", testAmount(t, "KUDOS:5")); !errors.Is(err, ErrNotAnExchange) {
		t.Fatalf("exchange wallet: got %v", err)
	}
	if _, err := svc.Create(context.Background(), "ghost", testAmount(t, "KUDOS:5")); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unknown wallet: got %v", err)
	}
}
