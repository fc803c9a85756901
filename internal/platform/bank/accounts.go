package bank

import (
	"context"
	"fmt"

	"github.com/regiobank/bankd/internal/platform/money"
)

// AdminUsername is the reserved operator account. It carries the admin
// debt limit and funds regional-currency issuance; it cannot be deleted.
const AdminUsername = "admin"

// AccountSpec carries everything needed to register an account. The
// password arrives already hashed; the ledger treats the hash as opaque.
type AccountSpec struct {
	Username        string
	PasswordHash    string
	Name            string
	PaytoURI        string
	IsPublic        bool
	IsTalerExchange bool
	Email           string
	Phone           string
	CashoutPayto    string
	// DebtLimit overrides the configured default when non-nil (admin
	// only; enforced by the caller).
	DebtLimit *money.Amount
}

// RegisterAccount creates an account, idempotently keyed by username:
// re-registration with identical details is a no-op success, divergent
// details are a conflict. Returns whether the account was newly created.
func (s *LedgerService) RegisterAccount(ctx context.Context, spec AccountSpec) (Account, bool, error) {
	if spec.Username == "" || spec.PasswordHash == "" {
		return Account{}, false, fmt.Errorf("%w: missing username or password", money.ErrMalformed)
	}
	payto := spec.PaytoURI
	if payto == "" {
		payto = fmt.Sprintf("payto://x-taler-bank/%s/%s", s.cfg.PaytoHost, spec.Username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[spec.Username]; ok {
		same := existing.Name == spec.Name &&
			existing.PaytoURI == payto &&
			existing.IsPublic == spec.IsPublic &&
			existing.IsTalerExchange == spec.IsTalerExchange
		if !same {
			return Account{}, false, ErrUsernameTaken
		}
		return *existing, false, nil
	}
	if taken, ok := s.usernameByPayto[payto]; ok {
		return Account{}, false, fmt.Errorf("%w: payto owned by %q", ErrUsernameTaken, taken)
	}

	maxDebt := s.cfg.DefaultDebtLimit
	if spec.Username == AdminUsername {
		maxDebt = s.cfg.AdminDebtLimit
	}
	if spec.DebtLimit != nil {
		maxDebt = *spec.DebtLimit
	}
	if maxDebt.Currency == "" {
		maxDebt = money.Zero(s.cfg.Currency)
	}
	if err := s.checkCurrency(maxDebt); err != nil {
		return Account{}, false, err
	}

	acct := &Account{
		ID:              s.nextAccountID,
		Username:        spec.Username,
		Name:            spec.Name,
		PasswordHash:    spec.PasswordHash,
		PaytoURI:        payto,
		IsPublic:        spec.IsPublic,
		IsTalerExchange: spec.IsTalerExchange,
		Balance:         money.Zero(s.cfg.Currency),
		MaxDebt:         maxDebt,
		Email:           spec.Email,
		Phone:           spec.Phone,
		CashoutPayto:    spec.CashoutPayto,
	}

	if err := s.persistAccount(ctx, acct); err != nil {
		s.log.Error().Err(err).Str("username", spec.Username).Msg("persist account")
		return Account{}, false, fmt.Errorf("%w: persist account: %v", ErrInternal, err)
	}

	s.nextAccountID++
	s.accounts[acct.Username] = acct
	s.usernameByPayto[acct.PaytoURI] = acct.Username
	s.usernameByID[acct.ID] = acct.Username
	s.log.Info().Str("username", acct.Username).Bool("exchange", acct.IsTalerExchange).Msg("account registered")
	return *acct, true, nil
}

// Account returns a snapshot of one account.
func (s *LedgerService) Account(ctx context.Context, username string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *acct, nil
}

// AccountByPayto resolves an account from its payto URI.
func (s *LedgerService) AccountByPayto(ctx context.Context, payto string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.usernameByPayto[payto]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *s.accounts[username], nil
}

// PublicAccounts lists accounts flagged public, in registration order.
func (s *LedgerService) PublicAccounts(ctx context.Context) []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0)
	for id := int64(1); id < s.nextAccountID; id++ {
		username, ok := s.usernameByID[id]
		if !ok {
			continue
		}
		if acct := s.accounts[username]; acct.IsPublic {
			out = append(out, *acct)
		}
	}
	return out
}

// AccountPatch updates mutable account details. Nil fields are left
// untouched. DebtLimit changes are admin-only; the caller enforces that.
type AccountPatch struct {
	Name         *string
	IsPublic     *bool
	Email        *string
	Phone        *string
	CashoutPayto *string
	DebtLimit    *money.Amount
}

func (s *LedgerService) PatchAccount(ctx context.Context, username string, patch AccountPatch) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if patch.DebtLimit != nil {
		if err := s.checkCurrency(*patch.DebtLimit); err != nil {
			return Account{}, err
		}
	}

	updated := *acct
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.IsPublic != nil {
		updated.IsPublic = *patch.IsPublic
	}
	if patch.Email != nil {
		updated.Email = *patch.Email
	}
	if patch.Phone != nil {
		updated.Phone = *patch.Phone
	}
	if patch.CashoutPayto != nil {
		updated.CashoutPayto = *patch.CashoutPayto
	}
	if patch.DebtLimit != nil {
		updated.MaxDebt = *patch.DebtLimit
	}

	if err := s.persistAccountUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("username", username).Msg("persist account patch")
		return Account{}, fmt.Errorf("%w: persist account patch: %v", ErrInternal, err)
	}
	*acct = updated
	return *acct, nil
}

// UpdatePassword replaces the stored hash. Old-password verification is
// the caller's concern (it owns the hashing service).
func (s *LedgerService) UpdatePassword(ctx context.Context, username, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return ErrAccountNotFound
	}
	updated := *acct
	updated.PasswordHash = newHash
	if err := s.persistAccountUpdate(ctx, &updated); err != nil {
		s.log.Error().Err(err).Str("username", username).Msg("persist password update")
		return fmt.Errorf("%w: persist password: %v", ErrInternal, err)
	}
	acct.PasswordHash = newHash
	return nil
}

// DeleteAccount removes an account whose balance is settled. The admin
// account is protected.
func (s *LedgerService) DeleteAccount(ctx context.Context, username string) error {
	if username == AdminUsername {
		return ErrAccountProtected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return ErrAccountNotFound
	}
	if !acct.Balance.IsZero() {
		return ErrBalanceNonzero
	}

	if err := s.persistAccountDelete(ctx, acct); err != nil {
		s.log.Error().Err(err).Str("username", username).Msg("persist account delete")
		return fmt.Errorf("%w: persist account delete: %v", ErrInternal, err)
	}
	delete(s.accounts, username)
	delete(s.usernameByPayto, acct.PaytoURI)
	delete(s.usernameByID, acct.ID)
	return nil
}
