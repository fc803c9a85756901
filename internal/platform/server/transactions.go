package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/money"
)

type transactionJSON struct {
	ID           int64        `json:"row_id"`
	Counterparty string       `json:"counterparty_payto_uri"`
	Direction    string       `json:"direction"`
	Amount       money.Amount `json:"amount"`
	Subject      string       `json:"subject"`
	Timestamp    time.Time    `json:"timestamp"`
}

func transactionToJSON(t bank.Transaction) transactionJSON {
	return transactionJSON{
		ID:           t.ID,
		Counterparty: t.CounterpartyPayto,
		Direction:    string(t.Direction),
		Amount:       t.Amount,
		Subject:      t.Subject,
		Timestamp:    t.Timestamp,
	}
}

// historyParams is the (start, delta) cursor convention: positive delta
// pages forward from start, negative delta pages backward; start omitted
// means "from the beginning" or "from the most recent" respectively.
type historyParams struct {
	start    int64
	delta    int64
	longPoll time.Duration
}

func (s *Server) parseHistoryParams(r *http.Request) (historyParams, error) {
	p := historyParams{delta: -20}
	q := r.URL.Query()
	var err error
	if v := q.Get("delta"); v != "" {
		if p.delta, err = strconv.ParseInt(v, 10, 64); err != nil {
			return p, err
		}
	}
	if v := q.Get("start"); v != "" {
		if p.start, err = strconv.ParseInt(v, 10, 64); err != nil {
			return p, err
		}
	}
	if v := q.Get("long_poll_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, err
		}
		p.longPoll = time.Duration(ms) * time.Millisecond
		if p.longPoll > s.LongPollMax {
			p.longPoll = s.LongPollMax
		}
	}
	return p, nil
}

// awaitChange parks the request on an already-subscribed hub channel
// until a change fires, the long-poll budget runs out, or the client
// disconnects. The caller must subscribe before its first read so a
// change landing between the read and the wait is not lost. Returns
// false when the caller should give up without re-querying.
func (s *Server) awaitChange(ctx context.Context, ch <-chan struct{}, budget time.Duration) bool {
	s.Metrics.LongPollStarted()
	defer s.Metrics.LongPollFinished()

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	p, err := s.parseHistoryParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad paging parameters"})
		return
	}

	// Subscribe before the first read: a transfer committing between
	// the read and the wait still signals the channel.
	var wake <-chan struct{}
	if p.longPoll > 0 {
		if acct, aerr := s.Ledger.Account(r.Context(), username); aerr == nil {
			ch, cancel := s.Ledger.Notify.Subscribe(acct.ID)
			defer cancel()
			wake = ch
		}
	}

	rows, err := s.Ledger.History(r.Context(), username, p.start, p.delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(rows) == 0 && wake != nil {
		if s.awaitChange(r.Context(), wake, p.longPoll) {
			rows, err = s.Ledger.History(r.Context(), username, p.start, p.delta)
			if err != nil {
				s.writeError(w, err)
				return
			}
		}
	}

	out := make([]transactionJSON, 0, len(rows))
	for _, t := range rows {
		out = append(out, transactionToJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad transaction id"})
		return
	}
	t, err := s.Ledger.TransactionByID(r.Context(), chi.URLParam(r, "username"), txID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionToJSON(t))
}

type createTransferRequest struct {
	CreditPayto string       `json:"payto_uri"`
	Subject     string       `json:"subject"`
	Amount      money.Amount `json:"amount"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	res, err := s.Ledger.CreateInternalTransfer(r.Context(), chi.URLParam(r, "username"), req.CreditPayto, req.Subject, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"row_id":    res.DebitRow.ID,
		"timestamp": res.Timestamp,
	})
}
