package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/regiobank/bankd/internal/platform/auth"
	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/money"
)

type contactJSON struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type registerRequest struct {
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	PaytoURI        string        `json:"payto_uri,omitempty"`
	IsPublic        bool          `json:"is_public,omitempty"`
	IsTalerExchange bool          `json:"is_taler_exchange,omitempty"`
	Contact         *contactJSON  `json:"contact,omitempty"`
	CashoutPayto    string        `json:"cashout_payto_uri,omitempty"`
	DebtLimit       *money.Amount `json:"debt_limit,omitempty"`
}

type balanceJSON struct {
	Amount    money.Amount `json:"amount"`
	Indicator string       `json:"credit_debit_indicator"`
}

type accountJSON struct {
	Username        string       `json:"username"`
	Name            string       `json:"name"`
	PaytoURI        string       `json:"payto_uri"`
	Balance         balanceJSON  `json:"balance"`
	DebitThreshold  money.Amount `json:"debit_threshold"`
	IsPublic        bool         `json:"is_public"`
	IsTalerExchange bool         `json:"is_taler_exchange"`
	Contact         contactJSON  `json:"contact"`
	CashoutPayto    string       `json:"cashout_payto_uri,omitempty"`
}

func accountToJSON(acct bank.Account) accountJSON {
	indicator := "credit"
	if acct.HasDebt {
		indicator = "debit"
	}
	return accountJSON{
		Username:        acct.Username,
		Name:            acct.Name,
		PaytoURI:        acct.PaytoURI,
		Balance:         balanceJSON{Amount: acct.Balance, Indicator: indicator},
		DebitThreshold:  acct.MaxDebt,
		IsPublic:        acct.IsPublic,
		IsTalerExchange: acct.IsTalerExchange,
		Contact:         contactJSON{Email: acct.Email, Phone: acct.Phone},
		CashoutPayto:    acct.CashoutPayto,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	// Open registration can be disabled; the admin may always register
	// accounts. Debt-limit overrides are admin-only either way.
	var caller identity
	if header := r.Header.Get("Authorization"); header != "" {
		caller, _ = s.authenticate(r, auth.ScopeReadWrite)
	}
	if !s.AllowRegistration && !caller.isAdmin() {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "registration is disabled"})
		return
	}
	if req.DebtLimit != nil && !caller.isAdmin() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "only the admin may set debt limits"})
		return
	}

	hash, err := s.Passwords.Hash(req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	spec := bank.AccountSpec{
		Username:        req.Username,
		PasswordHash:    hash,
		Name:            req.Name,
		PaytoURI:        req.PaytoURI,
		IsPublic:        req.IsPublic,
		IsTalerExchange: req.IsTalerExchange,
		CashoutPayto:    req.CashoutPayto,
		DebtLimit:       req.DebtLimit,
	}
	if req.Contact != nil {
		spec.Email = req.Contact.Email
		spec.Phone = req.Contact.Phone
	}

	acct, created, err := s.Ledger.RegisterAccount(r.Context(), spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{
		"username":  acct.Username,
		"payto_uri": acct.PaytoURI,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Ledger.Account(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountToJSON(acct))
}

func (s *Server) handlePublicAccounts(w http.ResponseWriter, r *http.Request) {
	accts := s.Ledger.PublicAccounts(r.Context())
	out := make([]accountJSON, 0, len(accts))
	for _, a := range accts {
		out = append(out, accountToJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"public_accounts": out})
}

type patchAccountRequest struct {
	Name         *string       `json:"name,omitempty"`
	IsPublic     *bool         `json:"is_public,omitempty"`
	Contact      *contactJSON  `json:"contact,omitempty"`
	CashoutPayto *string       `json:"cashout_payto_uri,omitempty"`
	DebtLimit    *money.Amount `json:"debt_limit,omitempty"`
}

func (s *Server) handlePatchAccount(w http.ResponseWriter, r *http.Request) {
	var req patchAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	if req.DebtLimit != nil && !identityFrom(r.Context()).isAdmin() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "only the admin may set debt limits"})
		return
	}

	patch := bank.AccountPatch{
		Name:         req.Name,
		IsPublic:     req.IsPublic,
		CashoutPayto: req.CashoutPayto,
		DebtLimit:    req.DebtLimit,
	}
	if req.Contact != nil {
		patch.Email = &req.Contact.Email
		patch.Phone = &req.Contact.Phone
	}

	acct, err := s.Ledger.PatchAccount(r.Context(), chi.URLParam(r, "username"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountToJSON(acct))
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password,omitempty"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	username := chi.URLParam(r, "username")

	// Non-admin callers must prove knowledge of the old password.
	if !identityFrom(r.Context()).isAdmin() {
		acct, err := s.Ledger.Account(r.Context(), username)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !s.Passwords.Verify(req.OldPassword, acct.PasswordHash) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "old password does not match"})
			return
		}
	}

	hash, err := s.Passwords.Hash(req.NewPassword)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Ledger.UpdatePassword(r.Context(), username, hash); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if !s.AllowAccountDeletion {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "account deletion is disabled"})
		return
	}
	if err := s.Ledger.DeleteAccount(r.Context(), chi.URLParam(r, "username")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
