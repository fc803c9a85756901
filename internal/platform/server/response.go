package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/regiobank/bankd/internal/platform/bank"
	"github.com/regiobank/bankd/internal/platform/money"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps core error kinds to wire-level status codes. Internal
// invariant violations indicate a bug and always surface as 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isMalformed(err):
		status = http.StatusBadRequest
	default:
		switch bank.KindOf(err) {
		case bank.KindMalformedInput:
			status = http.StatusBadRequest
		case bank.KindNotFound:
			status = http.StatusNotFound
		case bank.KindConflict:
			status = http.StatusConflict
		case bank.KindUnauthorized:
			status = http.StatusUnauthorized
		case bank.KindForbidden:
			status = http.StatusForbidden
		}
	}
	if status == http.StatusInternalServerError {
		s.Log.Error().Err(err).Msg("internal error")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func isMalformed(err error) bool {
	return errors.Is(err, money.ErrMalformed) ||
		errors.Is(err, money.ErrCurrencyMismatch) ||
		errors.Is(err, money.ErrOverflow) ||
		errors.Is(err, money.ErrBelowMin) ||
		errors.Is(err, money.ErrConversionEmpty)
}

func decodeJSON(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}
