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

// CashoutConfig fixes the regional-to-fiat conversion of a deployment.
type CashoutConfig struct {
	Enabled bool
	// SinkPayto is the off-ledger account absorbing escrowed regional
	// debits; the fiat payout itself happens on an external rail.
	SinkPayto string
	// Sell converts regional amounts into fiat credit.
	Sell money.ConversionSpec
	// RegionalTiny is the rounding step when deriving the debit from a
	// requested credit.
	RegionalTiny money.Amount
	// FiatFracDigits caps the fractional precision accepted on the
	// credit side. Zero means money.FiatFracDigits.
	FiatFracDigits int
}

// CashoutService converts regional balance into external fiat. The
// regional debit is escrowed at creation and only released by abort;
// confirmation requires a TAN.
type CashoutService struct {
	Clock  clock.Clock
	Ledger *LedgerService
	Tan    *TanService

	log     zerolog.Logger
	cfg     CashoutConfig
	metrics *Metrics

	mu  sync.Mutex
	ops map[uuid.UUID]*CashoutOperation
	db  *sql.DB
}

// CashoutOperationKind tags TAN challenges issued for cashout
// confirmation.
const CashoutOperationKind = "cashout"

func NewCashoutService(clk clock.Clock, ledger *LedgerService, tan *TanService, log zerolog.Logger, cfg CashoutConfig, db ...*sql.DB) *CashoutService {
	var handle *sql.DB
	if len(db) > 0 {
		handle = db[0]
	}
	if cfg.FiatFracDigits <= 0 {
		cfg.FiatFracDigits = money.FiatFracDigits
	}
	return &CashoutService{
		Clock:  clk,
		Ledger: ledger,
		Tan:    tan,
		log:    log.With().Str("component", "cashout").Logger(),
		cfg:    cfg,
		ops:    make(map[uuid.UUID]*CashoutOperation),
		db:     handle,
	}
}

func (s *CashoutService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Quote derives the missing side of a conversion. Exactly one of debit
// and credit must be non-nil.
func (s *CashoutService) Quote(debit, credit *money.Amount) (money.Amount, money.Amount, error) {
	if !s.cfg.Enabled {
		return money.Amount{}, money.Amount{}, ErrConversionDisabled
	}
	switch {
	case debit != nil && credit == nil:
		out, err := s.cfg.Sell.Convert(*debit)
		if err != nil {
			return money.Amount{}, money.Amount{}, err
		}
		return *debit, out, nil
	case credit != nil && debit == nil:
		if err := money.CheckFracDigits(*credit, s.cfg.FiatFracDigits); err != nil {
			return money.Amount{}, money.Amount{}, err
		}
		in, err := s.cfg.Sell.Invert(*credit, s.cfg.RegionalTiny, s.Ledger.Currency())
		if err != nil {
			return money.Amount{}, money.Amount{}, err
		}
		return in, *credit, nil
	}
	return money.Amount{}, money.Amount{}, fmt.Errorf("%w: exactly one of debit and credit must be given", money.ErrMalformed)
}

// Create escrows the regional debit, records the operation as pending,
// and issues a TAN challenge bound to its confirmation. When the caller
// supplies the expected credit it must match the quoted conversion.
func (s *CashoutService) Create(ctx context.Context, username string, amountDebit money.Amount, expectedCredit *money.Amount, subject string, channel TanChannel) (CashoutOperation, error) {
	if !s.cfg.Enabled {
		return CashoutOperation{}, ErrConversionDisabled
	}
	credit, err := s.cfg.Sell.Convert(amountDebit)
	if err != nil {
		return CashoutOperation{}, err
	}
	if expectedCredit != nil {
		// JSON unmarshalling accepts the full regional precision; the
		// fiat side is limited to its own rail's digits.
		if err := money.CheckFracDigits(*expectedCredit, s.cfg.FiatFracDigits); err != nil {
			return CashoutOperation{}, err
		}
		if c, err := money.Cmp(credit, *expectedCredit); err != nil || c != 0 {
			return CashoutOperation{}, ErrCashoutBadAmount
		}
	}

	acct, err := s.Ledger.Account(ctx, username)
	if err != nil {
		return CashoutOperation{}, err
	}
	if acct.CashoutPayto == "" {
		return CashoutOperation{}, ErrMissingCashoutPayto
	}
	address, err := tanAddress(acct, channel)
	if err != nil {
		return CashoutOperation{}, err
	}

	if subject == "" {
		subject = fmt.Sprintf("cashout to %s", acct.CashoutPayto)
	}

	// Escrow first: the regional debit must hold before a challenge is
	// worth issuing. An abort releases it.
	escrowRow, err := s.Ledger.CashoutDebit(ctx, username, s.cfg.SinkPayto, subject, amountDebit)
	if err != nil {
		return CashoutOperation{}, err
	}

	op := &CashoutOperation{
		UUID:           uuid.New(),
		AccountID:      acct.ID,
		Username:       username,
		AmountDebit:    amountDebit,
		AmountCredit:   credit,
		Subject:        subject,
		CreditPaytoURI: acct.CashoutPayto,
		Status:         CashoutPending,
		TanChannel:     channel,
		CreationTime:   s.Clock.Now(),
		EscrowRow:      escrowRow.ID,
	}

	challengeID, err := s.Tan.Issue(ctx, username, CashoutOperationKind, op.UUID[:], channel, address, maskAddress(address))
	if err != nil {
		// Challenge issuance failed after escrow: release immediately
		// instead of leaving funds parked.
		if _, refundErr := s.Ledger.CashoutRefund(ctx, username, s.cfg.SinkPayto, subject, amountDebit); refundErr != nil {
			s.log.Error().Err(refundErr).Str("username", username).Msg("escrow release after failed challenge issuance")
		}
		return CashoutOperation{}, err
	}
	op.TanChallengeID = challengeID

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistCashout(ctx, op); err != nil {
		s.log.Error().Err(err).Str("cashout", op.UUID.String()).Msg("persist cashout")
		// The escrow was already posted; an operation that never came
		// into existence must not keep it.
		if _, refundErr := s.Ledger.CashoutRefund(ctx, username, s.cfg.SinkPayto, subject, amountDebit); refundErr != nil {
			s.log.Error().Err(refundErr).Str("username", username).Msg("escrow release after failed persist")
		}
		return CashoutOperation{}, fmt.Errorf("%w: persist cashout: %v", ErrInternal, err)
	}
	s.ops[op.UUID] = op
	s.countEvent("created")
	return *op, nil
}

// Confirm validates the TAN and finalizes the operation. The fiat payout
// is delegated to the external payment rail; the ledger side is already
// settled by the escrow. Repeated confirmation is a no-op success.
func (s *CashoutService) Confirm(ctx context.Context, username string, id uuid.UUID, code string) (CashoutOperation, error) {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok || op.Username != username {
		s.mu.Unlock()
		return CashoutOperation{}, ErrCashoutNotFound
	}
	if op.Status == CashoutConfirmed {
		snapshot := *op
		s.mu.Unlock()
		return snapshot, nil
	}
	if op.Status == CashoutAborted {
		s.mu.Unlock()
		return CashoutOperation{}, ErrCashoutAborted
	}
	challengeID := op.TanChallengeID
	s.mu.Unlock()

	// TAN validation holds its own lock; never nest it under ours.
	body, err := s.Tan.Validate(ctx, challengeID, username, CashoutOperationKind, code)
	if err != nil {
		return CashoutOperation{}, err
	}
	if !uuidMatches(body, id) {
		return CashoutOperation{}, fmt.Errorf("%w: challenge bound to a different operation", ErrInternal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok = s.ops[id]
	if !ok {
		return CashoutOperation{}, ErrCashoutNotFound
	}
	// The status may have moved while the lock was released for TAN
	// validation; an abort in that window already refunded the escrow
	// and must not be overwritten.
	if op.Status == CashoutConfirmed {
		return *op, nil
	}
	if op.Status == CashoutAborted {
		return CashoutOperation{}, ErrCashoutAborted
	}
	updated := *op
	updated.Status = CashoutConfirmed
	updated.TanConfirmationTime = s.Clock.Now()
	if err := s.persistCashoutUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("cashout", id.String()).Msg("persist confirmation")
		return CashoutOperation{}, fmt.Errorf("%w: persist confirmation: %v", ErrInternal, err)
	}
	*op = updated
	s.countEvent("confirmed")
	return *op, nil
}

// Abort releases the escrowed debit of a pending operation. It applies
// both to user-requested aborts and to challenges that permanently
// failed (retries exhausted or expired). Repeating an abort is a no-op
// success; aborting a confirmed operation is a conflict.
func (s *CashoutService) Abort(ctx context.Context, username string, id uuid.UUID) (CashoutOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok || op.Username != username {
		return CashoutOperation{}, ErrCashoutNotFound
	}
	switch op.Status {
	case CashoutConfirmed:
		return CashoutOperation{}, ErrCashoutConfirmed
	case CashoutAborted:
		return *op, nil
	}

	if _, err := s.Ledger.CashoutRefund(ctx, username, s.cfg.SinkPayto, op.Subject, op.AmountDebit); err != nil {
		return CashoutOperation{}, err
	}

	updated := *op
	updated.Status = CashoutAborted
	if err := s.persistCashoutUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("cashout", id.String()).Msg("persist abort")
		return CashoutOperation{}, fmt.Errorf("%w: persist abort: %v", ErrInternal, err)
	}
	*op = updated
	s.countEvent("aborted")
	return *op, nil
}

// Get returns a status snapshot scoped to the owning login.
func (s *CashoutService) Get(ctx context.Context, username string, id uuid.UUID) (CashoutOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok || op.Username != username {
		return CashoutOperation{}, ErrCashoutNotFound
	}
	return *op, nil
}

// Abandoned reports whether a pending operation's challenge can no
// longer succeed, making the operation abortable by policy.
func (s *CashoutService) Abandoned(ctx context.Context, username string, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	op, ok := s.ops[id]
	if !ok || op.Username != username {
		s.mu.Unlock()
		return false, ErrCashoutNotFound
	}
	pending := op.Status == CashoutPending
	challengeID := op.TanChallengeID
	s.mu.Unlock()

	if !pending {
		return false, nil
	}
	return s.Tan.Abandoned(ctx, challengeID), nil
}

func tanAddress(acct Account, channel TanChannel) (string, error) {
	switch channel {
	case TanChannelSMS:
		if acct.Phone == "" {
			return "", ErrMissingTanAddress
		}
		return acct.Phone, nil
	case TanChannelEmail:
		if acct.Email == "" {
			return "", ErrMissingTanAddress
		}
		return acct.Email, nil
	}
	return "", fmt.Errorf("%w: unknown tan channel %q", money.ErrMalformed, channel)
}

// maskAddress keeps only a recognizable suffix for challenge info.
func maskAddress(address string) string {
	if len(address) <= 4 {
		return "****"
	}
	return "****" + address[len(address)-4:]
}

func uuidMatches(body []byte, id uuid.UUID) bool {
	parsed, err := uuid.FromBytes(body)
	return err == nil && parsed == id
}

func (s *CashoutService) countEvent(event string) {
	if s.metrics != nil {
		s.metrics.cashoutsTotal.WithLabelValues(event).Inc()
	}
}
