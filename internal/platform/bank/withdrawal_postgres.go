package bank

import "context"

func (s *WithdrawalService) dbEnabled() bool {
	return s != nil && s.db != nil
}

func (s *WithdrawalService) persistWithdrawal(ctx context.Context, op *WithdrawalOperation) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
INSERT INTO withdrawal_operations (
  uuid, account_id, amount_val, amount_frac, currency,
  selection_done, confirmation_done, aborted,
  selected_exchange_payto, reserve_pub, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),NULLIF($10,''),$11)
`
	_, err := s.db.ExecContext(ctx, q,
		op.UUID, op.WalletAccountID,
		pgUint(op.Amount.Val), int64(op.Amount.Frac), op.Amount.Currency,
		op.SelectionDone, op.ConfirmationDone, op.Aborted,
		op.SelectedExchangePayto, op.ReservePub, op.CreatedAt,
	)
	return err
}

func (s *WithdrawalService) persistWithdrawalUpdate(ctx context.Context, op *WithdrawalOperation) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
UPDATE withdrawal_operations
SET selection_done = $2, confirmation_done = $3, aborted = $4,
    selected_exchange_payto = NULLIF($5,''), reserve_pub = NULLIF($6,'')
WHERE uuid = $1
`
	_, err := s.db.ExecContext(ctx, q,
		op.UUID, op.SelectionDone, op.ConfirmationDone, op.Aborted,
		op.SelectedExchangePayto, op.ReservePub,
	)
	if conflict := uniqueViolation(err); conflict != nil {
		return conflict
	}
	return err
}
