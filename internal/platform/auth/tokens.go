package auth

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/regiobank/bankd/internal/platform/clock"
	"github.com/regiobank/bankd/internal/platform/random"
)

// Scope is what a bearer token is allowed to do. ReadWrite subsumes
// Readonly.
type Scope string

const (
	ScopeReadonly  Scope = "readonly"
	ScopeReadWrite Scope = "readwrite"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeReadonly, ScopeReadWrite:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Satisfies reports whether a token with this scope may perform an
// operation requiring the given scope.
func (s Scope) Satisfies(required Scope) bool {
	return s == ScopeReadWrite || required == ScopeReadonly
}

// secretLen is the token entropy in bytes; the client sees it base64url
// encoded and treats it as opaque.
const secretLen = 32

// BearerToken authenticates API calls. Ownership stays with the customer
// that created the root token, across any chain of refreshes.
type BearerToken struct {
	Secret         string
	Scope          Scope
	IsRefreshable  bool
	CreationTime   time.Time
	ExpirationTime time.Time
	OwningUsername string
}

func (t BearerToken) expired(now time.Time) bool {
	return now.After(t.ExpirationTime)
}

// TokenPolicy caps token lifetimes.
type TokenPolicy struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
}

func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{DefaultDuration: 24 * time.Hour, MaxDuration: 720 * time.Hour}
}

// TokenService issues, scopes, and expires bearer tokens.
type TokenService struct {
	Clock clock.Clock
	Rand  random.Source

	log    zerolog.Logger
	policy TokenPolicy

	mu     sync.Mutex
	tokens map[string]*BearerToken
	db     *sql.DB
}

func NewTokenService(clk clock.Clock, rnd random.Source, log zerolog.Logger, policy TokenPolicy, db ...*sql.DB) *TokenService {
	var handle *sql.DB
	if len(db) > 0 {
		handle = db[0]
	}
	if policy.DefaultDuration <= 0 {
		policy.DefaultDuration = 24 * time.Hour
	}
	if policy.MaxDuration <= 0 {
		policy.MaxDuration = 720 * time.Hour
	}
	return &TokenService{
		Clock:  clk,
		Rand:   rnd,
		log:    log.With().Str("component", "tokens").Logger(),
		policy: policy,
		tokens: make(map[string]*BearerToken),
		db:     handle,
	}
}

// Issue mints a token for a customer. The requested duration is clamped
// to the configured maximum; zero means the default. Expiration overflow
// is rejected rather than wrapped.
func (s *TokenService) Issue(ctx context.Context, username string, scope Scope, duration time.Duration, refreshable bool) (BearerToken, error) {
	return s.issue(ctx, username, scope, duration, refreshable)
}

func (s *TokenService) issue(ctx context.Context, owner string, scope Scope, duration time.Duration, refreshable bool) (BearerToken, error) {
	if duration <= 0 {
		duration = s.policy.DefaultDuration
	}
	if duration > s.policy.MaxDuration {
		duration = s.policy.MaxDuration
	}

	raw := make([]byte, secretLen)
	if err := s.Rand.Bytes(raw); err != nil {
		return BearerToken{}, fmt.Errorf("generate token: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	now := s.Clock.Now()
	expiry := now.Add(duration)
	if expiry.Before(now) {
		return BearerToken{}, fmt.Errorf("token expiration overflow")
	}

	tok := &BearerToken{
		Secret:         secret,
		Scope:          scope,
		IsRefreshable:  refreshable,
		CreationTime:   now,
		ExpirationTime: expiry,
		OwningUsername: owner,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistToken(ctx, tok); err != nil {
		s.log.Error().Err(err).Str("username", owner).Msg("persist token")
		return BearerToken{}, fmt.Errorf("persist token: %w", err)
	}
	s.tokens[secret] = tok
	return *tok, nil
}

// Authenticate resolves a presented secret. It returns ok=false (never an
// error) on unknown tokens, expiry, or insufficient scope.
func (s *TokenService) Authenticate(ctx context.Context, secret string, required Scope) (BearerToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[secret]
	if !ok {
		return BearerToken{}, false
	}
	if tok.expired(s.Clock.Now()) {
		delete(s.tokens, secret)
		s.deleteToken(ctx, secret)
		return BearerToken{}, false
	}
	if !tok.Scope.Satisfies(required) {
		return BearerToken{}, false
	}
	return *tok, true
}

// Refresh exchanges a refreshable token for a fresh one. The new token is
// always attributed to the original root customer, regardless of who
// presents the old one.
func (s *TokenService) Refresh(ctx context.Context, secret string, scope Scope, duration time.Duration, refreshable bool) (BearerToken, error) {
	s.mu.Lock()
	tok, ok := s.tokens[secret]
	if !ok || tok.expired(s.Clock.Now()) {
		s.mu.Unlock()
		return BearerToken{}, fmt.Errorf("token not refreshable: unknown or expired")
	}
	if !tok.IsRefreshable {
		s.mu.Unlock()
		return BearerToken{}, fmt.Errorf("token not refreshable")
	}
	// A refresh can narrow but never widen the scope.
	if !tok.Scope.Satisfies(scope) {
		s.mu.Unlock()
		return BearerToken{}, fmt.Errorf("refresh may not widen scope")
	}
	owner := tok.OwningUsername
	s.mu.Unlock()

	return s.issue(ctx, owner, scope, duration, refreshable)
}

// Revoke discards a token. Revoking an unknown token is a no-op.
func (s *TokenService) Revoke(ctx context.Context, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[secret]; ok {
		delete(s.tokens, secret)
		s.deleteToken(ctx, secret)
	}
}
