package bank

import (
	"context"
	"time"
)

func (s *CashoutService) dbEnabled() bool {
	return s != nil && s.db != nil
}

func (s *CashoutService) persistCashout(ctx context.Context, op *CashoutOperation) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
INSERT INTO cashout_operations (
  uuid, account_id, debit_val, debit_frac, debit_currency,
  credit_val, credit_frac, credit_currency, subject, credit_payto,
  status, tan_channel, tan_challenge_id, creation_time, escrow_row
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	_, err := s.db.ExecContext(ctx, q,
		op.UUID, op.AccountID,
		pgUint(op.AmountDebit.Val), int64(op.AmountDebit.Frac), op.AmountDebit.Currency,
		pgUint(op.AmountCredit.Val), int64(op.AmountCredit.Frac), op.AmountCredit.Currency,
		op.Subject, op.CreditPaytoURI,
		string(op.Status), string(op.TanChannel), op.TanChallengeID,
		op.CreationTime, op.EscrowRow,
	)
	return err
}

func (s *CashoutService) persistCashoutUpdate(ctx context.Context, op *CashoutOperation) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
UPDATE cashout_operations
SET status = $2, tan_confirmation_time = $3
WHERE uuid = $1
`
	var confirmedAt *time.Time
	if !op.TanConfirmationTime.IsZero() {
		confirmedAt = &op.TanConfirmationTime
	}
	_, err := s.db.ExecContext(ctx, q, op.UUID, string(op.Status), confirmedAt)
	return err
}
