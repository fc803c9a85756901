package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/regiobank/bankd/internal/platform/auth"
	"github.com/regiobank/bankd/internal/platform/bank"
)

type identityKey struct{}

// identity is the authenticated caller of one request.
type identity struct {
	Username string
	Scope    auth.Scope
	// TokenSecret is set when the caller authenticated with a bearer
	// token; token refresh needs the presented secret.
	TokenSecret string
}

func (id identity) isAdmin() bool {
	return id.Username == bank.AdminUsername
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

// bearerPrefix is the Taler convention for opaque bank tokens.
const bearerPrefix = "secret-token:"

// withAuth authenticates the caller and enforces resource ownership: the
// {username} in the path must be the caller or the admin account.
func (s *Server) withAuth(required auth.Scope, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.authenticate(r, required)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="bankd", Bearer`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
			return
		}
		if username := chi.URLParam(r, "username"); username != "" && username != id.Username && !id.isAdmin() {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "not the resource owner"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	}
}

func (s *Server) authenticate(r *http.Request, required auth.Scope) (identity, bool) {
	header := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		secret := strings.TrimPrefix(header, "Bearer ")
		secret = strings.TrimPrefix(secret, bearerPrefix)
		tok, ok := s.Tokens.Authenticate(r.Context(), secret, required)
		if !ok {
			return identity{}, false
		}
		return identity{Username: tok.OwningUsername, Scope: tok.Scope, TokenSecret: secret}, true
	case strings.HasPrefix(header, "Basic "):
		payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err != nil {
			return identity{}, false
		}
		username, password, ok := strings.Cut(string(payload), ":")
		if !ok {
			return identity{}, false
		}
		acct, err := s.Ledger.Account(r.Context(), username)
		if err != nil || !s.Passwords.Verify(password, acct.PasswordHash) {
			return identity{}, false
		}
		return identity{Username: username, Scope: auth.ScopeReadWrite}, true
	}
	return identity{}, false
}
