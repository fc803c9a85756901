package server

import (
	"net/http"
	"time"

	"github.com/regiobank/bankd/internal/platform/auth"
)

type tokenRequest struct {
	Scope       string `json:"scope"`
	DurationSec int64  `json:"duration_s,omitempty"`
	Refreshable bool   `json:"refreshable,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	Expiration  time.Time `json:"expiration"`
}

// handleIssueToken mints a bearer token. A caller authenticated with a
// token performs a refresh instead, which keeps ownership with the root
// customer and may never widen the scope.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	scope, err := auth.ParseScope(req.Scope)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	duration := time.Duration(req.DurationSec) * time.Second

	id := identityFrom(r.Context())
	var tok auth.BearerToken
	if id.TokenSecret != "" {
		tok, err = s.Tokens.Refresh(r.Context(), id.TokenSecret, scope, duration, req.Refreshable)
	} else {
		tok, err = s.Tokens.Issue(r.Context(), id.Username, scope, duration, req.Refreshable)
	}
	if err != nil {
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
		return
	}
	s.Metrics.TokenIssued()
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: "secret-token:" + tok.Secret,
		Expiration:  tok.ExpirationTime,
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.TokenSecret == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "no token presented"})
		return
	}
	s.Tokens.Revoke(r.Context(), id.TokenSecret)
	writeJSON(w, http.StatusNoContent, nil)
}
