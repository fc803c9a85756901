package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/money"
)

type wireTransferRequest struct {
	RequestUID      string       `json:"request_uid"`
	Amount          money.Amount `json:"amount"`
	ExchangeBaseURL string       `json:"exchange_base_url"`
	WTID            string       `json:"wtid"`
	CreditAccount   string       `json:"credit_account"`
}

// handleWireTransfer is the wire-gateway outgoing transfer, restricted
// to exchange-flagged accounts. Idempotent on request_uid.
func (s *Server) handleWireTransfer(w http.ResponseWriter, r *http.Request) {
	var req wireTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	res, err := s.Ledger.ExchangeTransfer(r.Context(), bank.ExchangeTransferRequest{
		RequesterUsername: chi.URLParam(r, "username"),
		RequestUID:        req.RequestUID,
		Amount:            req.Amount,
		ExchangeBaseURL:   req.ExchangeBaseURL,
		WTID:              req.WTID,
		CreditPayto:       req.CreditAccount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"row_id":    res.DebitRow.ID,
		"timestamp": res.Timestamp,
	})
}

type addIncomingRequest struct {
	ReservePub   string       `json:"reserve_pub"`
	Amount       money.Amount `json:"amount"`
	DebitAccount string       `json:"debit_account"`
}

// handleAddIncoming credits the exchange from a customer account,
// binding the credit to a reserve public key. Idempotent on reserve_pub.
func (s *Server) handleAddIncoming(w http.ResponseWriter, r *http.Request) {
	var req addIncomingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	res, err := s.Ledger.ExchangeAddIncoming(r.Context(), bank.AddIncomingRequest{
		RequesterUsername: chi.URLParam(r, "username"),
		ReservePub:        req.ReservePub,
		Amount:            req.Amount,
		DebitPayto:        req.DebitAccount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"row_id":    res.CreditRow.ID,
		"timestamp": res.Timestamp,
	})
}

type incomingHistoryJSON struct {
	RowID      int64        `json:"row_id"`
	Amount     money.Amount `json:"amount"`
	DebitPayto string       `json:"debit_account"`
	ReservePub string       `json:"reserve_pub"`
	Date       time.Time    `json:"date"`
}

func (s *Server) handleIncomingHistory(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseHistoryParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad paging parameters"})
		return
	}
	rows, err := s.Ledger.IncomingHistory(r.Context(), chi.URLParam(r, "username"), p.start, p.delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]incomingHistoryJSON, 0, len(rows))
	for _, t := range rows {
		out = append(out, incomingHistoryJSON{
			RowID:      t.ID,
			Amount:     t.Amount,
			DebitPayto: t.CounterpartyPayto,
			ReservePub: t.ReservePub,
			Date:       t.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"incoming_transactions": out})
}

type outgoingHistoryJSON struct {
	RowID       int64        `json:"row_id"`
	Amount      money.Amount `json:"amount"`
	CreditPayto string       `json:"credit_account"`
	WTID        string       `json:"wtid"`
	Date        time.Time    `json:"date"`
}

func (s *Server) handleOutgoingHistory(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseHistoryParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad paging parameters"})
		return
	}
	rows, err := s.Ledger.OutgoingHistory(r.Context(), chi.URLParam(r, "username"), p.start, p.delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]outgoingHistoryJSON, 0, len(rows))
	for _, t := range rows {
		out = append(out, outgoingHistoryJSON{
			RowID:       t.ID,
			Amount:      t.Amount,
			CreditPayto: t.CounterpartyPayto,
			WTID:        t.Subject,
			Date:        t.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"outgoing_transactions": out})
}
