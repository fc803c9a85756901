package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/money"
)

// handleCashoutRate quotes the conversion without creating anything.
// Exactly one of amount_debit and amount_credit must be supplied.
func (s *Server) handleCashoutRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var debit, credit *money.Amount
	if v := q.Get("amount_debit"); v != "" {
		a, err := money.Parse(v, money.MaxFracDigits)
		if err != nil {
			s.writeError(w, err)
			return
		}
		debit = &a
	}
	if v := q.Get("amount_credit"); v != "" {
		a, err := money.Parse(v, money.FiatFracDigits)
		if err != nil {
			s.writeError(w, err)
			return
		}
		credit = &a
	}

	debitOut, creditOut, err := s.Cashouts.Quote(debit, credit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]money.Amount{
		"amount_debit":  debitOut,
		"amount_credit": creditOut,
	})
}

type cashoutJSON struct {
	CashoutID    string       `json:"cashout_id"`
	AmountDebit  money.Amount `json:"amount_debit"`
	AmountCredit money.Amount `json:"amount_credit"`
	Subject      string       `json:"subject"`
	CreditPayto  string       `json:"credit_payto_uri"`
	Status       string       `json:"status"`
	TanChannel   string       `json:"tan_channel"`
	CreationTime time.Time    `json:"creation_time"`
	ConfirmedAt  *time.Time   `json:"confirmation_time,omitempty"`
}

func cashoutToJSON(op bank.CashoutOperation) cashoutJSON {
	out := cashoutJSON{
		CashoutID:    op.UUID.String(),
		AmountDebit:  op.AmountDebit,
		AmountCredit: op.AmountCredit,
		Subject:      op.Subject,
		CreditPayto:  op.CreditPaytoURI,
		Status:       string(op.Status),
		TanChannel:   string(op.TanChannel),
		CreationTime: op.CreationTime,
	}
	if !op.TanConfirmationTime.IsZero() {
		t := op.TanConfirmationTime
		out.ConfirmedAt = &t
	}
	return out
}

type createCashoutRequest struct {
	AmountDebit  money.Amount  `json:"amount_debit"`
	AmountCredit *money.Amount `json:"amount_credit,omitempty"`
	Subject      string        `json:"subject,omitempty"`
	TanChannel   string        `json:"tan_channel"`
}

func (s *Server) handleCreateCashout(w http.ResponseWriter, r *http.Request) {
	var req createCashoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	op, err := s.Cashouts.Create(r.Context(), chi.URLParam(r, "username"), req.AmountDebit, req.AmountCredit, req.Subject, bank.TanChannel(req.TanChannel))
	if err != nil {
		s.writeError(w, err)
		return
	}
	// 202: the operation exists but needs the TAN before it commits.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"cashout_id":   op.UUID.String(),
		"challenge_id": strconv.FormatInt(op.TanChallengeID, 10),
	})
}

func cashoutUUID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "cid"))
}

func (s *Server) handleGetCashout(w http.ResponseWriter, r *http.Request) {
	id, err := cashoutUUID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad cashout id"})
		return
	}
	op, err := s.Cashouts.Get(r.Context(), chi.URLParam(r, "username"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cashoutToJSON(op))
}

type confirmCashoutRequest struct {
	Tan string `json:"tan"`
}

func (s *Server) handleConfirmCashout(w http.ResponseWriter, r *http.Request) {
	id, err := cashoutUUID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad cashout id"})
		return
	}
	var req confirmCashoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	op, err := s.Cashouts.Confirm(r.Context(), chi.URLParam(r, "username"), id, req.Tan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cashoutToJSON(op))
}

func (s *Server) handleAbortCashout(w http.ResponseWriter, r *http.Request) {
	id, err := cashoutUUID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad cashout id"})
		return
	}
	op, err := s.Cashouts.Abort(r.Context(), chi.URLParam(r, "username"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cashoutToJSON(op))
}

// handleResendChallenge rotates and redelivers a pending TAN code. The
// delivery address is resolved from the account's contact details for
// the challenge's channel.
func (s *Server) handleResendChallenge(w http.ResponseWriter, r *http.Request) {
	chID, err := strconv.ParseInt(chi.URLParam(r, "chID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad challenge id"})
		return
	}
	username := chi.URLParam(r, "username")

	status, err := s.Tan.Status(r.Context(), chID, username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	acct, err := s.Ledger.Account(r.Context(), username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	address := acct.Phone
	if status.Channel == bank.TanChannelEmail {
		address = acct.Email
	}
	if err := s.Tan.Resend(r.Context(), chID, username, address); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
