package bank

import (
	"time"

	"github.com/google/uuid"

	"github.com/regiobank/bankd/internal/platform/money"
)

// Account is a ledger-side bank account. Balance together with HasDebt
// encodes a signed quantity: HasDebt means the account owes Balance.
// After any committed transfer, HasDebt && Balance > MaxDebt never holds.
type Account struct {
	ID              int64
	Username        string
	Name            string
	PasswordHash    string
	PaytoURI        string
	IsPublic        bool
	IsTalerExchange bool
	Balance         money.Amount
	HasDebt         bool
	MaxDebt         money.Amount
	Email           string
	Phone           string
	CashoutPayto    string
}

// TransactionDirection tags which side of a transfer a ledger row records.
type TransactionDirection string

const (
	DirectionDebit  TransactionDirection = "debit"
	DirectionCredit TransactionDirection = "credit"
)

// Transaction is one ledger row. Every wire movement writes two rows (one
// per side) sharing TransferID; they are created atomically together.
type Transaction struct {
	ID                int64
	TransferID        int64
	AccountID         int64
	CounterpartyPayto string
	Direction         TransactionDirection
	Amount            money.Amount
	Subject           string
	Timestamp         time.Time

	// Correlation fields, set per transfer flavor. ReservePub and
	// RequestUID are unique across the whole ledger when present.
	RequestUID string
	ReservePub string
	EndToEndID string
}

// TransferResult reports both rows of a committed transfer.
type TransferResult struct {
	DebitRow  *Transaction
	CreditRow *Transaction
	Timestamp time.Time
}

// WithdrawalStatus is the lifecycle of a wallet withdrawal operation.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalSelected  WithdrawalStatus = "selected"
	WithdrawalConfirmed WithdrawalStatus = "confirmed"
	WithdrawalAborted   WithdrawalStatus = "aborted"
)

// WithdrawalOperation models a wallet-initiated withdrawal. Once the
// exchange and reserve are selected they are immutable.
type WithdrawalOperation struct {
	UUID                  uuid.UUID
	WalletAccountID       int64
	WalletUsername        string
	Amount                money.Amount
	SelectionDone         bool
	ConfirmationDone      bool
	Aborted               bool
	SelectedExchangePayto string
	ReservePub            string
	CreatedAt             time.Time
}

func (w *WithdrawalOperation) Status() WithdrawalStatus {
	switch {
	case w.Aborted:
		return WithdrawalAborted
	case w.ConfirmationDone:
		return WithdrawalConfirmed
	case w.SelectionDone:
		return WithdrawalSelected
	}
	return WithdrawalPending
}

// CashoutStatus is the lifecycle of a cashout operation. The regional
// debit is escrowed at creation and released on abort.
type CashoutStatus string

const (
	CashoutPending   CashoutStatus = "pending"
	CashoutConfirmed CashoutStatus = "confirmed"
	CashoutAborted   CashoutStatus = "aborted"
)

// CashoutOperation converts regional balance into external fiat.
type CashoutOperation struct {
	UUID                uuid.UUID
	AccountID           int64
	Username            string
	AmountDebit         money.Amount
	AmountCredit        money.Amount
	Subject             string
	CreditPaytoURI      string
	Status              CashoutStatus
	TanChannel          TanChannel
	TanChallengeID      int64
	CreationTime        time.Time
	TanConfirmationTime time.Time
	// EscrowRow references the debit ledger row written at creation.
	EscrowRow int64
}

// TanChannel is the out-of-band delivery medium for one-time codes.
type TanChannel string

const (
	TanChannelSMS   TanChannel = "sms"
	TanChannelEmail TanChannel = "email"
)

// TanChallenge gates one sensitive operation. Consumed exactly once on
// success.
type TanChallenge struct {
	ID               int64
	OwningLogin      string
	OperationKind    string
	Body             []byte
	Code             string
	CreatedAt        time.Time
	ValidUntil       time.Time
	RetriesRemaining int
	Channel          TanChannel
	Info             string
	Confirmed        bool
}
