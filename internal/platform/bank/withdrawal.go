package bank

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/regiobank/bankd/internal/platform/clock"
	"github.com/regiobank/bankd/internal/platform/money"
)

// WithdrawalService models wallet-initiated withdrawals:
// pending -> selected -> {confirmed, aborted}. Confirmation realizes the
// actual debit/credit through the ledger exactly once.
type WithdrawalService struct {
	Clock  clock.Clock
	Ledger *LedgerService

	log     zerolog.Logger
	metrics *Metrics

	mu sync.Mutex
	// ops holds every operation by its externally-visible UUID.
	ops map[uuid.UUID]*WithdrawalOperation
	// selectedReserves tracks reserve keys claimed by not-yet-confirmed
	// selections, so two withdrawals cannot select the same reserve.
	selectedReserves map[string]uuid.UUID
	db               *sql.DB
}

func NewWithdrawalService(clk clock.Clock, ledger *LedgerService, log zerolog.Logger, db ...*sql.DB) *WithdrawalService {
	var handle *sql.DB
	if len(db) > 0 {
		handle = db[0]
	}
	return &WithdrawalService{
		Clock:            clk,
		Ledger:           ledger,
		log:              log.With().Str("component", "withdrawal").Logger(),
		ops:              make(map[uuid.UUID]*WithdrawalOperation),
		selectedReserves: make(map[string]uuid.UUID),
		db:               handle,
	}
}

func (s *WithdrawalService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Create initializes a pending, unselected operation for the wallet's
// bank account.
func (s *WithdrawalService) Create(ctx context.Context, walletUsername string, amount money.Amount) (WithdrawalOperation, error) {
	if err := s.Ledger.checkCurrency(amount); err != nil {
		return WithdrawalOperation{}, err
	}
	if amount.IsZero() {
		return WithdrawalOperation{}, fmt.Errorf("%w: zero amount", money.ErrMalformed)
	}
	acct, err := s.Ledger.Account(ctx, walletUsername)
	if err != nil {
		return WithdrawalOperation{}, err
	}
	if acct.IsTalerExchange {
		return WithdrawalOperation{}, ErrNotAnExchange
	}

	op := &WithdrawalOperation{
		UUID:            uuid.New(),
		WalletAccountID: acct.ID,
		WalletUsername:  walletUsername,
		Amount:          amount,
		CreatedAt:       s.Clock.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistWithdrawal(ctx, op); err != nil {
		s.log.Error().Err(err).Str("withdrawal", op.UUID.String()).Msg("persist withdrawal")
		return WithdrawalOperation{}, fmt.Errorf("%w: persist withdrawal: %v", ErrInternal, err)
	}
	s.ops[op.UUID] = op
	s.countEvent("created")
	return *op, nil
}

// Get returns a status snapshot. Safe to repeat; identical for every
// caller.
func (s *WithdrawalService) Get(ctx context.Context, id uuid.UUID) (WithdrawalOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return WithdrawalOperation{}, ErrOpNotFound
	}
	return *op, nil
}

// Select binds the operation to an exchange account and reserve key.
// Identical re-selection is accepted (idempotent); conflicting
// re-selection is rejected. Once selected the pair is immutable.
func (s *WithdrawalService) Select(ctx context.Context, id uuid.UUID, exchangePayto, reservePub string) (WithdrawalOperation, error) {
	if exchangePayto == "" || reservePub == "" {
		return WithdrawalOperation{}, fmt.Errorf("%w: missing exchange or reserve", money.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return WithdrawalOperation{}, ErrOpNotFound
	}
	if op.Aborted {
		return WithdrawalOperation{}, ErrWithdrawalAborted
	}
	if op.SelectionDone {
		if op.SelectedExchangePayto == exchangePayto && op.ReservePub == reservePub {
			return *op, nil
		}
		return WithdrawalOperation{}, ErrAlreadySelected
	}

	if s.Ledger.ReservePubUsed(reservePub) {
		return WithdrawalOperation{}, ErrReservePubReuse
	}
	if claimed, ok := s.selectedReserves[reservePub]; ok && claimed != id {
		return WithdrawalOperation{}, ErrReservePubReuse
	}
	exchange, err := s.Ledger.AccountByPayto(ctx, exchangePayto)
	if err != nil {
		return WithdrawalOperation{}, ErrExchangeAccountBogus
	}
	if !exchange.IsTalerExchange {
		return WithdrawalOperation{}, ErrAccountIsNotExchange
	}

	updated := *op
	updated.SelectionDone = true
	updated.SelectedExchangePayto = exchangePayto
	updated.ReservePub = reservePub
	if err := s.persistWithdrawalUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("withdrawal", id.String()).Msg("persist selection")
		return WithdrawalOperation{}, fmt.Errorf("%w: persist selection: %v", ErrInternal, err)
	}
	*op = updated
	s.selectedReserves[reservePub] = id
	s.Ledger.Notify.Publish(op.WalletAccountID)
	s.countEvent("selected")
	return *op, nil
}

// Confirm moves the operation to its terminal confirmed state and posts
// the wallet-to-exchange transfer exactly once. Repeated confirmation is
// a no-op success.
func (s *WithdrawalService) Confirm(ctx context.Context, id uuid.UUID) (WithdrawalOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return WithdrawalOperation{}, ErrOpNotFound
	}
	if op.Aborted {
		return WithdrawalOperation{}, ErrWithdrawalAborted
	}
	if op.ConfirmationDone {
		return *op, nil
	}
	if !op.SelectionDone {
		return WithdrawalOperation{}, ErrNotSelected
	}

	// The ledger re-checks reserve uniqueness at commit; our selection
	// claim makes a clash here an invariant violation, not a user error.
	if _, err := s.Ledger.WithdrawalTransfer(ctx, op.WalletUsername, op.SelectedExchangePayto, op.ReservePub, op.Amount); err != nil {
		return WithdrawalOperation{}, err
	}

	updated := *op
	updated.ConfirmationDone = true
	if err := s.persistWithdrawalUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("withdrawal", id.String()).Msg("persist confirmation")
		return WithdrawalOperation{}, fmt.Errorf("%w: persist confirmation: %v", ErrInternal, err)
	}
	*op = updated
	delete(s.selectedReserves, op.ReservePub)
	s.countEvent("confirmed")
	return *op, nil
}

// Abort moves the operation to its terminal aborted state, releasing any
// reserve claim. Aborting a confirmed operation is a conflict; repeating
// an abort is a no-op success.
func (s *WithdrawalService) Abort(ctx context.Context, id uuid.UUID) (WithdrawalOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return WithdrawalOperation{}, ErrOpNotFound
	}
	if op.ConfirmationDone {
		return WithdrawalOperation{}, ErrWithdrawalConfirmed
	}
	if op.Aborted {
		return *op, nil
	}

	updated := *op
	updated.Aborted = true
	if err := s.persistWithdrawalUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("withdrawal", id.String()).Msg("persist abort")
		return WithdrawalOperation{}, fmt.Errorf("%w: persist abort: %v", ErrInternal, err)
	}
	*op = updated
	if op.ReservePub != "" {
		delete(s.selectedReserves, op.ReservePub)
	}
	s.Ledger.Notify.Publish(op.WalletAccountID)
	s.countEvent("aborted")
	return *op, nil
}

func (s *WithdrawalService) countEvent(event string) {
	if s.metrics != nil {
		s.metrics.withdrawalsTotal.WithLabelValues(event).Inc()
	}
}
