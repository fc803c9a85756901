package bank

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/regiobank/bankd/internal/platform/clock"
	"github.com/regiobank/bankd/internal/platform/money"
)

// LedgerConfig is the immutable ledger-wide configuration, injected at
// construction (never read from ambient globals).
type LedgerConfig struct {
	// Currency denominates every account; cross-currency amounts are
	// rejected before any mutation.
	Currency string
	// PaytoHost is used when deriving an account's payto URI from its
	// username at registration.
	PaytoHost string
	// DefaultDebtLimit applies to customer accounts; AdminDebtLimit to
	// the admin account, which funds regional-currency issuance.
	DefaultDebtLimit money.Amount
	AdminDebtLimit   money.Amount
}

// LedgerService owns bank-account balances and produces atomic,
// idempotent transfers. State is authoritative in memory under a single
// mutex; when a database handle is configured every committed mutation is
// mirrored inside one SQL transaction with store-level uniqueness
// constraints (see ledger_postgres.go).
type LedgerService struct {
	Clock  clock.Clock
	Notify *ChangeHub

	log     zerolog.Logger
	cfg     LedgerConfig
	metrics *Metrics

	mu              sync.Mutex
	accounts        map[string]*Account
	usernameByPayto map[string]string
	usernameByID    map[int64]string
	txLog           []*Transaction
	txByAccount     map[int64][]*Transaction
	reservePubs     map[string]int64
	wireDedup       map[string]*wireDedupEntry
	nextAccountID   int64
	nextTransferID  int64
	db              *sql.DB
}

type wireDedupEntry struct {
	fingerprint string
	result      *TransferResult
}

func NewLedgerService(clk clock.Clock, log zerolog.Logger, cfg LedgerConfig, db ...*sql.DB) *LedgerService {
	var handle *sql.DB
	if len(db) > 0 {
		handle = db[0]
	}
	return &LedgerService{
		Clock:           clk,
		Notify:          NewChangeHub(),
		log:             log.With().Str("component", "ledger").Logger(),
		cfg:             cfg,
		accounts:        make(map[string]*Account),
		usernameByPayto: make(map[string]string),
		usernameByID:    make(map[int64]string),
		txByAccount:     make(map[int64][]*Transaction),
		reservePubs:     make(map[string]int64),
		wireDedup:       make(map[string]*wireDedupEntry),
		nextAccountID:   1,
		nextTransferID:  1,
		db:              handle,
	}
}

// SetMetrics attaches optional instrumentation; all metric calls are
// nil-safe.
func (s *LedgerService) SetMetrics(m *Metrics) {
	s.metrics = m
}

func (s *LedgerService) Currency() string {
	return s.cfg.Currency
}

func (s *LedgerService) checkCurrency(a money.Amount) error {
	if a.Currency != s.cfg.Currency {
		return fmt.Errorf("%w: expected %s, got %s", money.ErrCurrencyMismatch, s.cfg.Currency, a.Currency)
	}
	return nil
}

// CreateInternalTransfer moves funds between two customer accounts. The
// creditor is resolved by payto URI. Both ledger rows and both balance
// updates commit together; a change notification is emitted per affected
// account.
func (s *LedgerService) CreateInternalTransfer(ctx context.Context, debtorUsername, creditorPayto, subject string, amount money.Amount) (*TransferResult, error) {
	if err := s.checkCurrency(amount); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: zero amount", money.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	debtor, ok := s.accounts[debtorUsername]
	if !ok {
		return nil, ErrNoDebtor
	}
	creditorName, ok := s.usernameByPayto[creditorPayto]
	if !ok {
		return nil, ErrNoCreditor
	}
	creditor := s.accounts[creditorName]

	res, err := s.postLocked(ctx, debtor, creditor, amount, subject, correlation{})
	if err != nil {
		s.countTransfer("internal", err)
		return nil, err
	}
	s.countTransfer("internal", nil)
	return res, nil
}

// ExchangeTransferRequest is a wire-gateway outgoing transfer: the
// requesting exchange pays a customer account.
type ExchangeTransferRequest struct {
	RequesterUsername string
	RequestUID        string
	Amount            money.Amount
	ExchangeBaseURL   string
	WTID              string
	CreditPayto       string
}

// ExchangeTransfer debits the requesting exchange account. Duplicate
// submission with identical parameters replays the original result;
// divergent parameters under the same request_uid fail RequestUidReuse.
func (s *LedgerService) ExchangeTransfer(ctx context.Context, req ExchangeTransferRequest) (*TransferResult, error) {
	if err := s.checkCurrency(req.Amount); err != nil {
		return nil, err
	}
	if req.RequestUID == "" || req.WTID == "" {
		return nil, fmt.Errorf("%w: missing request_uid or wtid", money.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := fmt.Sprintf("transfer|%s|%s|%s|%s|%s", req.RequesterUsername, req.Amount, req.ExchangeBaseURL, req.WTID, req.CreditPayto)
	if prev, ok := s.wireDedup["uid:"+req.RequestUID]; ok {
		if prev.fingerprint != fingerprint {
			return nil, ErrRequestUIDReuse
		}
		return prev.result, nil
	}

	exchange, ok := s.accounts[req.RequesterUsername]
	if !ok {
		return nil, ErrUnknownDebtor
	}
	if !exchange.IsTalerExchange {
		return nil, ErrNotAnExchange
	}
	creditorName, ok := s.usernameByPayto[req.CreditPayto]
	if !ok {
		return nil, ErrUnknownCreditor
	}
	creditor := s.accounts[creditorName]
	if creditor.IsTalerExchange {
		return nil, ErrBothPartyAreExchange
	}

	subject := fmt.Sprintf("%s %s", req.WTID, req.ExchangeBaseURL)
	res, err := s.postLocked(ctx, exchange, creditor, req.Amount, subject, correlation{requestUID: req.RequestUID})
	if err != nil {
		s.countTransfer("exchange_outgoing", err)
		return nil, err
	}
	s.wireDedup["uid:"+req.RequestUID] = &wireDedupEntry{fingerprint: fingerprint, result: res}
	s.countTransfer("exchange_outgoing", nil)
	return res, nil
}

// AddIncomingRequest is a wire-gateway incoming credit: a customer
// account funds a reserve at the requesting exchange.
type AddIncomingRequest struct {
	RequesterUsername string
	ReservePub        string
	Amount            money.Amount
	DebitPayto        string
}

// ExchangeAddIncoming credits the requesting exchange and records the
// reserve public key for downstream withdrawal matching. Reuse of a
// reserve_pub fails ReservePubReuse; an identical duplicate submission is
// replayed as success.
func (s *LedgerService) ExchangeAddIncoming(ctx context.Context, req AddIncomingRequest) (*TransferResult, error) {
	if err := s.checkCurrency(req.Amount); err != nil {
		return nil, err
	}
	if req.ReservePub == "" {
		return nil, fmt.Errorf("%w: missing reserve_pub", money.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := fmt.Sprintf("add-incoming|%s|%s|%s", req.RequesterUsername, req.Amount, req.DebitPayto)
	if prev, ok := s.wireDedup["rp:"+req.ReservePub]; ok {
		if prev.fingerprint != fingerprint {
			return nil, ErrReservePubReuse
		}
		return prev.result, nil
	}
	if _, used := s.reservePubs[req.ReservePub]; used {
		return nil, ErrReservePubReuse
	}

	exchange, ok := s.accounts[req.RequesterUsername]
	if !ok {
		return nil, ErrUnknownCreditor
	}
	if !exchange.IsTalerExchange {
		return nil, ErrNotAnExchange
	}
	debtorName, ok := s.usernameByPayto[req.DebitPayto]
	if !ok {
		return nil, ErrUnknownDebtor
	}
	debtor := s.accounts[debtorName]
	if debtor.IsTalerExchange {
		return nil, ErrBothPartyAreExchange
	}

	res, err := s.postLocked(ctx, debtor, exchange, req.Amount, req.ReservePub, correlation{reservePub: req.ReservePub})
	if err != nil {
		s.countTransfer("exchange_incoming", err)
		return nil, err
	}
	s.reservePubs[req.ReservePub] = res.CreditRow.ID
	s.wireDedup["rp:"+req.ReservePub] = &wireDedupEntry{fingerprint: fingerprint, result: res}
	s.countTransfer("exchange_incoming", nil)
	return res, nil
}

// WithdrawalTransfer realizes a confirmed withdrawal: the wallet account
// pays the selected exchange, with the reserve public key as subject.
// Reserve uniqueness is re-checked at commit time, not only at selection,
// to close the race window.
func (s *LedgerService) WithdrawalTransfer(ctx context.Context, walletUsername, exchangePayto, reservePub string, amount money.Amount) (*TransferResult, error) {
	if err := s.checkCurrency(amount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.reservePubs[reservePub]; used {
		return nil, ErrReservePubReuse
	}
	wallet, ok := s.accounts[walletUsername]
	if !ok {
		return nil, ErrNoDebtor
	}
	exchangeName, ok := s.usernameByPayto[exchangePayto]
	if !ok {
		return nil, ErrExchangeAccountBogus
	}
	exchange := s.accounts[exchangeName]
	if !exchange.IsTalerExchange {
		return nil, ErrAccountIsNotExchange
	}

	res, err := s.postLocked(ctx, wallet, exchange, amount, reservePub, correlation{reservePub: reservePub})
	if err != nil {
		s.countTransfer("withdrawal", err)
		return nil, err
	}
	s.reservePubs[reservePub] = res.CreditRow.ID
	s.countTransfer("withdrawal", nil)
	return res, nil
}

// ReservePubUsed reports whether a reserve public key already appears in
// the ledger. A pre-check only; commit paths re-validate.
func (s *LedgerService) ReservePubUsed(reservePub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, used := s.reservePubs[reservePub]
	return used
}

// CashoutDebit escrows the regional side of a cashout: a single debit row
// against the off-ledger cashout sink.
func (s *LedgerService) CashoutDebit(ctx context.Context, username, sinkPayto, subject string, amount money.Amount) (*Transaction, error) {
	if err := s.checkCurrency(amount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, ErrNoDebtor
	}
	row, err := s.postOneSidedLocked(ctx, acct, sinkPayto, subject, amount, DirectionDebit)
	if err != nil {
		s.countTransfer("cashout", err)
		return nil, err
	}
	s.countTransfer("cashout", nil)
	return row, nil
}

// CashoutRefund releases an escrowed cashout debit after abort or expiry.
func (s *LedgerService) CashoutRefund(ctx context.Context, username, sinkPayto, subject string, amount money.Amount) (*Transaction, error) {
	if err := s.checkCurrency(amount); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, ErrNoCreditor
	}
	return s.postOneSidedLocked(ctx, acct, sinkPayto, subject, amount, DirectionCredit)
}

type correlation struct {
	requestUID string
	reservePub string
}

// postLocked writes both ledger rows and both balance updates of a
// transfer. Caller holds s.mu.
func (s *LedgerService) postLocked(ctx context.Context, debtor, creditor *Account, amount money.Amount, subject string, corr correlation) (*TransferResult, error) {
	if debtor.ID == creditor.ID {
		return nil, ErrSameAccount
	}

	debited, ok, err := money.Debit(debtor.Balance, debtor.HasDebt, amount, debtor.MaxDebt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientFunds
	}
	credited, err := money.Credit(creditor.Balance, creditor.HasDebt, amount)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	transferID := s.nextTransferID
	s.nextTransferID++
	endToEnd := uuid.NewString()

	debitRow := &Transaction{
		ID:                int64(len(s.txLog)) + 1,
		TransferID:        transferID,
		AccountID:         debtor.ID,
		CounterpartyPayto: creditor.PaytoURI,
		Direction:         DirectionDebit,
		Amount:            amount,
		Subject:           subject,
		Timestamp:         now,
		RequestUID:        corr.requestUID,
		ReservePub:        corr.reservePub,
		EndToEndID:        endToEnd,
	}
	creditRow := &Transaction{
		ID:                int64(len(s.txLog)) + 2,
		TransferID:        transferID,
		AccountID:         creditor.ID,
		CounterpartyPayto: debtor.PaytoURI,
		Direction:         DirectionCredit,
		Amount:            amount,
		Subject:           subject,
		Timestamp:         now,
		RequestUID:        corr.requestUID,
		ReservePub:        corr.reservePub,
		EndToEndID:        endToEnd,
	}

	if err := s.persistTransfer(ctx, debtor, creditor, debitRow, creditRow, debited, credited); err != nil {
		s.log.Error().Err(err).Int64("transfer_id", transferID).Msg("persist transfer")
		return nil, fmt.Errorf("%w: persist transfer: %v", ErrInternal, err)
	}

	debtor.Balance, debtor.HasDebt = debited.Balance, debited.HasDebt
	creditor.Balance, creditor.HasDebt = credited.Balance, credited.HasDebt
	s.txLog = append(s.txLog, debitRow, creditRow)
	s.txByAccount[debtor.ID] = append(s.txByAccount[debtor.ID], debitRow)
	s.txByAccount[creditor.ID] = append(s.txByAccount[creditor.ID], creditRow)

	s.Notify.Publish(debtor.ID)
	s.Notify.Publish(creditor.ID)

	return &TransferResult{DebitRow: debitRow, CreditRow: creditRow, Timestamp: now}, nil
}

// postOneSidedLocked writes a single row against an off-ledger
// counterparty (the cashout sink). Caller holds s.mu.
func (s *LedgerService) postOneSidedLocked(ctx context.Context, acct *Account, counterpartyPayto, subject string, amount money.Amount, dir TransactionDirection) (*Transaction, error) {
	var next money.DebitResult
	var err error
	if dir == DirectionDebit {
		var ok bool
		next, ok, err = money.Debit(acct.Balance, acct.HasDebt, amount, acct.MaxDebt)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInsufficientFunds
		}
	} else {
		next, err = money.Credit(acct.Balance, acct.HasDebt, amount)
		if err != nil {
			return nil, err
		}
	}

	now := s.Clock.Now()
	transferID := s.nextTransferID
	s.nextTransferID++
	row := &Transaction{
		ID:                int64(len(s.txLog)) + 1,
		TransferID:        transferID,
		AccountID:         acct.ID,
		CounterpartyPayto: counterpartyPayto,
		Direction:         dir,
		Amount:            amount,
		Subject:           subject,
		Timestamp:         now,
		EndToEndID:        uuid.NewString(),
	}

	if err := s.persistOneSided(ctx, acct, row, next); err != nil {
		s.log.Error().Err(err).Int64("transfer_id", transferID).Msg("persist one-sided row")
		return nil, fmt.Errorf("%w: persist row: %v", ErrInternal, err)
	}

	acct.Balance, acct.HasDebt = next.Balance, next.HasDebt
	s.txLog = append(s.txLog, row)
	s.txByAccount[acct.ID] = append(s.txByAccount[acct.ID], row)
	s.Notify.Publish(acct.ID)
	return row, nil
}

// History returns a page of the account's ledger rows ordered by
// insertion id. Positive delta pages forward from start (exclusive);
// negative delta pages backward. start <= 0 with negative delta means
// "from the most recent row".
func (s *LedgerService) History(ctx context.Context, username string, start, delta int64) ([]Transaction, error) {
	return s.history(ctx, username, start, delta, nil)
}

// IncomingHistory lists reserve-funding credit rows of an exchange
// account, for wire-gateway polling.
func (s *LedgerService) IncomingHistory(ctx context.Context, username string, start, delta int64) ([]Transaction, error) {
	return s.history(ctx, username, start, delta, func(t *Transaction) bool {
		return t.Direction == DirectionCredit && t.ReservePub != ""
	})
}

// OutgoingHistory lists wire-transfer debit rows of an exchange account.
func (s *LedgerService) OutgoingHistory(ctx context.Context, username string, start, delta int64) ([]Transaction, error) {
	return s.history(ctx, username, start, delta, func(t *Transaction) bool {
		return t.Direction == DirectionDebit && t.RequestUID != ""
	})
}

func (s *LedgerService) history(ctx context.Context, username string, start, delta int64, keep func(*Transaction) bool) ([]Transaction, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: zero delta", money.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	rows := s.txByAccount[acct.ID]

	out := make([]Transaction, 0)
	if delta > 0 {
		for _, t := range rows {
			if t.ID <= start {
				continue
			}
			if keep != nil && !keep(t) {
				continue
			}
			out = append(out, *t)
			if int64(len(out)) == delta {
				break
			}
		}
		return out, nil
	}

	cursor := start
	if cursor <= 0 {
		cursor = math.MaxInt64
	}
	for i := len(rows) - 1; i >= 0; i-- {
		t := rows[i]
		if t.ID >= cursor {
			continue
		}
		if keep != nil && !keep(t) {
			continue
		}
		out = append(out, *t)
		if int64(len(out)) == -delta {
			break
		}
	}
	return out, nil
}

// TransactionByID returns one ledger row, scoped to its owning account.
func (s *LedgerService) TransactionByID(ctx context.Context, username string, txID int64) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return Transaction{}, ErrAccountNotFound
	}
	if txID < 1 || txID > int64(len(s.txLog)) {
		return Transaction{}, ErrTransactionNotFound
	}
	t := s.txLog[txID-1]
	if t.AccountID != acct.ID {
		return Transaction{}, ErrTransactionNotFound
	}
	return *t, nil
}

func (s *LedgerService) countTransfer(flavor string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.transfersTotal.WithLabelValues(flavor, outcome).Inc()
}
