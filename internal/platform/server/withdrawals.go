package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/money"
)

type withdrawalJSON struct {
	WithdrawalID     string       `json:"withdrawal_id"`
	Amount           money.Amount `json:"amount"`
	Status           string       `json:"status"`
	SelectionDone    bool         `json:"selection_done"`
	ConfirmationDone bool         `json:"confirmation_done"`
	Aborted          bool         `json:"aborted"`
	SelectedExchange string       `json:"selected_exchange_account,omitempty"`
	SelectedReserve  string       `json:"selected_reserve_pub,omitempty"`
}

func withdrawalToJSON(op bank.WithdrawalOperation) withdrawalJSON {
	return withdrawalJSON{
		WithdrawalID:     op.UUID.String(),
		Amount:           op.Amount,
		Status:           string(op.Status()),
		SelectionDone:    op.SelectionDone,
		ConfirmationDone: op.ConfirmationDone,
		Aborted:          op.Aborted,
		SelectedExchange: op.SelectedExchangePayto,
		SelectedReserve:  op.ReservePub,
	}
}

func withdrawalUUID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "wid"))
}

type createWithdrawalRequest struct {
	Amount money.Amount `json:"amount"`
}

func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req createWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	op, err := s.Withdrawals.Create(r.Context(), chi.URLParam(r, "username"), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"withdrawal_id":      op.UUID.String(),
		"taler_withdraw_uri": fmt.Sprintf("taler://withdraw/%s/%s", r.Host, op.UUID),
	})
}

// handleWithdrawalStatus serves the wallet-facing status read. The UUID
// in the URL is the only credential; the snapshot is identical for every
// caller and safe to repeat. A long_poll_ms budget parks the request
// until the operation changes state.
func (s *Server) handleWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	id, err := withdrawalUUID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad withdrawal id"})
		return
	}
	p, err := s.parseHistoryParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad long-poll parameters"})
		return
	}

	op, err := s.Withdrawals.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	oldState := r.URL.Query().Get("old_state")
	if p.longPoll > 0 && oldState != "" && string(op.Status()) == oldState {
		ch, cancel := s.Ledger.Notify.Subscribe(op.WalletAccountID)
		defer cancel()
		// Re-read under the subscription: a transition landing before
		// the subscribe would otherwise never signal.
		if op, err = s.Withdrawals.Get(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		if string(op.Status()) == oldState && s.awaitChange(r.Context(), ch, p.longPoll) {
			if op, err = s.Withdrawals.Get(r.Context(), id); err != nil {
				s.writeError(w, err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, withdrawalToJSON(op))
}

type selectWithdrawalRequest struct {
	ReservePub       string `json:"reserve_pub"`
	SelectedExchange string `json:"selected_exchange"`
}

func (s *Server) handleWithdrawalSelect(w http.ResponseWriter, r *http.Request) {
	id, err := withdrawalUUID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad withdrawal id"})
		return
	}
	var req selectWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	op, err := s.Withdrawals.Select(r.Context(), id, req.SelectedExchange, req.ReservePub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalToJSON(op))
}

func (s *Server) handleWithdrawalAbortByUUID(w http.ResponseWriter, r *http.Request) {
	id, err := withdrawalUUID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad withdrawal id"})
		return
	}
	op, err := s.Withdrawals.Abort(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalToJSON(op))
}

// ownWithdrawal loads an operation and enforces that it belongs to the
// authenticated account's path.
func (s *Server) ownWithdrawal(r *http.Request) (bank.WithdrawalOperation, error) {
	id, err := withdrawalUUID(r)
	if err != nil {
		return bank.WithdrawalOperation{}, bank.ErrOpNotFound
	}
	op, err := s.Withdrawals.Get(r.Context(), id)
	if err != nil {
		return bank.WithdrawalOperation{}, err
	}
	if op.WalletUsername != chi.URLParam(r, "username") {
		return bank.WithdrawalOperation{}, bank.ErrOpNotFound
	}
	return op, nil
}

func (s *Server) handleConfirmWithdrawal(w http.ResponseWriter, r *http.Request) {
	op, err := s.ownWithdrawal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	confirmed, err := s.Withdrawals.Confirm(r.Context(), op.UUID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalToJSON(confirmed))
}

func (s *Server) handleAbortWithdrawal(w http.ResponseWriter, r *http.Request) {
	op, err := s.ownWithdrawal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	aborted, err := s.Withdrawals.Abort(r.Context(), op.UUID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalToJSON(aborted))
}
