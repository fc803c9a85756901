package bank

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/regiobank/bankd/internal/platform/money"
)

func (s *LedgerService) dbEnabled() bool {
	return s != nil && s.db != nil
}

// pgUint renders a uint64 for a NUMERIC(20,0) column. Casting through
// int64 would flip the sign for values above MaxInt64.
func pgUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// uniqueViolation maps a postgres duplicate-key failure to the matching
// core conflict, keyed on the constraint name. This is the store-level
// enforcement closing the race window a pre-check alone would leave.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "bank_transactions_reserve_pub_key", "withdrawal_operations_reserve_pub_key":
		return ErrReservePubReuse
	case "bank_transactions_request_uid_key":
		return ErrRequestUIDReuse
	case "bank_accounts_username_key", "bank_accounts_payto_uri_key":
		return ErrUsernameTaken
	}
	return ErrInternal
}

func (s *LedgerService) persistAccount(ctx context.Context, acct *Account) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
INSERT INTO bank_accounts (
  id, username, name, password_hash, payto_uri, is_public, is_taler_exchange,
  balance_val, balance_frac, has_debt, max_debt_val, max_debt_frac,
  email, phone, cashout_payto
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	_, err := s.db.ExecContext(ctx, q,
		acct.ID, acct.Username, acct.Name, acct.PasswordHash, acct.PaytoURI,
		acct.IsPublic, acct.IsTalerExchange,
		pgUint(acct.Balance.Val), int64(acct.Balance.Frac), acct.HasDebt,
		pgUint(acct.MaxDebt.Val), int64(acct.MaxDebt.Frac),
		acct.Email, acct.Phone, acct.CashoutPayto,
	)
	if conflict := uniqueViolation(err); conflict != nil {
		return conflict
	}
	return err
}

func (s *LedgerService) persistAccountUpdate(ctx context.Context, acct *Account) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
UPDATE bank_accounts
SET name = $2, password_hash = $3, is_public = $4,
    max_debt_val = $5, max_debt_frac = $6,
    email = $7, phone = $8, cashout_payto = $9
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q,
		acct.ID, acct.Name, acct.PasswordHash, acct.IsPublic,
		pgUint(acct.MaxDebt.Val), int64(acct.MaxDebt.Frac),
		acct.Email, acct.Phone, acct.CashoutPayto,
	)
	return err
}

func (s *LedgerService) persistAccountDelete(ctx context.Context, acct *Account) error {
	if !s.dbEnabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM bank_accounts WHERE id = $1`, acct.ID)
	return err
}

const insertTransactionSQL = `
INSERT INTO bank_transactions (
  id, transfer_id, account_id, counterparty_payto, direction,
  amount_val, amount_frac, currency, subject, ts,
  request_uid, reserve_pub, end_to_end_id
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13)
`

const adjustBalanceSQL = `
UPDATE bank_accounts
SET balance_val = $2, balance_frac = $3, has_debt = $4
WHERE id = $1
`

// persistTransfer writes both ledger rows and both balance updates in a
// single transaction, all-or-nothing.
func (s *LedgerService) persistTransfer(ctx context.Context, debtor, creditor *Account, debitRow, creditRow *Transaction, debited, credited money.DebitResult) error {
	if !s.dbEnabled() {
		return nil
	}
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbtx.Rollback()
	}()

	for _, row := range []*Transaction{debitRow, creditRow} {
		_, err := dbtx.ExecContext(ctx, insertTransactionSQL,
			row.ID, row.TransferID, row.AccountID, row.CounterpartyPayto, string(row.Direction),
			pgUint(row.Amount.Val), int64(row.Amount.Frac), row.Amount.Currency,
			row.Subject, row.Timestamp,
			row.RequestUID, row.ReservePub, row.EndToEndID,
		)
		if err != nil {
			if conflict := uniqueViolation(err); conflict != nil {
				return conflict
			}
			return err
		}
	}

	if _, err := dbtx.ExecContext(ctx, adjustBalanceSQL, debtor.ID, pgUint(debited.Balance.Val), int64(debited.Balance.Frac), debited.HasDebt); err != nil {
		return err
	}
	if _, err := dbtx.ExecContext(ctx, adjustBalanceSQL, creditor.ID, pgUint(credited.Balance.Val), int64(credited.Balance.Frac), credited.HasDebt); err != nil {
		return err
	}
	return dbtx.Commit()
}

func (s *LedgerService) persistOneSided(ctx context.Context, acct *Account, row *Transaction, next money.DebitResult) error {
	if !s.dbEnabled() {
		return nil
	}
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbtx.Rollback()
	}()

	_, err = dbtx.ExecContext(ctx, insertTransactionSQL,
		row.ID, row.TransferID, row.AccountID, row.CounterpartyPayto, string(row.Direction),
		pgUint(row.Amount.Val), int64(row.Amount.Frac), row.Amount.Currency,
		row.Subject, row.Timestamp,
		row.RequestUID, row.ReservePub, row.EndToEndID,
	)
	if err != nil {
		return err
	}
	if _, err := dbtx.ExecContext(ctx, adjustBalanceSQL, acct.ID, pgUint(next.Balance.Val), int64(next.Balance.Frac), next.HasDebt); err != nil {
		return err
	}
	return dbtx.Commit()
}
