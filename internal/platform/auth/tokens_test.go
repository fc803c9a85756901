package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fixedClock struct {
	now time.Time
}

func (f *fixedClock) Now() time.Time {
	return f.now
}

// countingRand fills buffers with a changing byte so every token secret
// differs.
type countingRand struct {
	counter byte
}

func (r *countingRand) Bytes(p []byte) error {
	r.counter++
	for i := range p {
		p[i] = r.counter
	}
	return nil
}

func (r *countingRand) Digits(n int) (string, error) {
	return "00000000", nil
}

func newTestTokens(t *testing.T) (*TokenService, *fixedClock) {
	t.Helper()
	clk := &fixedClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	svc := NewTokenService(clk, &countingRand{}, zerolog.Nop(), TokenPolicy{
		DefaultDuration: 24 * time.Hour,
		MaxDuration:     720 * time.Hour,
	})
	return svc, clk
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc, _ := newTestTokens(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, "alice", ScopeReadWrite, 0, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Secret == "" || tok.OwningUsername != "alice" {
		t.Fatalf("token wrong: %+v", tok)
	}
	if got := tok.ExpirationTime.Sub(tok.CreationTime); got != 24*time.Hour {
		t.Fatalf("zero duration must use the default; got %s", got)
	}

	auth, ok := svc.Authenticate(ctx, tok.Secret, ScopeReadWrite)
	if !ok || auth.OwningUsername != "alice" {
		t.Fatalf("authenticate failed: ok=%v %+v", ok, auth)
	}
	if _, ok := svc.Authenticate(ctx, "no-such-secret", ScopeReadonly); ok {
		t.Fatalf("unknown secret must not authenticate")
	}
}

func TestIssueClampsDuration(t *testing.T) {
	svc, _ := newTestTokens(t)
	tok, err := svc.Issue(context.Background(), "alice", ScopeReadonly, 10000*time.Hour, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := tok.ExpirationTime.Sub(tok.CreationTime); got != 720*time.Hour {
		t.Fatalf("duration not clamped; got %s", got)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc, clk := newTestTokens(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, "alice", ScopeReadWrite, time.Hour, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.now = clk.now.Add(time.Hour + time.Minute)
	if _, ok := svc.Authenticate(ctx, tok.Secret, ScopeReadonly); ok {
		t.Fatalf("expired token must not authenticate")
	}
	// Expired tokens cannot be refreshed either.
	if _, err := svc.Refresh(ctx, tok.Secret, ScopeReadonly, 0, false); err == nil {
		t.Fatalf("expired token must not refresh")
	}
}

func TestScopeEnforcement(t *testing.T) {
	svc, _ := newTestTokens(t)
	ctx := context.Background()

	ro, err := svc.Issue(ctx, "alice", ScopeReadonly, 0, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, ok := svc.Authenticate(ctx, ro.Secret, ScopeReadonly); !ok {
		t.Fatalf("readonly token must satisfy readonly")
	}
	if _, ok := svc.Authenticate(ctx, ro.Secret, ScopeReadWrite); ok {
		t.Fatalf("readonly token must not satisfy readwrite")
	}

	rw, err := svc.Issue(ctx, "alice", ScopeReadWrite, 0, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, ok := svc.Authenticate(ctx, rw.Secret, ScopeReadonly); !ok {
		t.Fatalf("readwrite token must satisfy readonly")
	}
}

func TestRefreshKeepsRootOwner(t *testing.T) {
	svc, _ := newTestTokens(t)
	ctx := context.Background()

	root, err := svc.Issue(ctx, "alice", ScopeReadWrite, 0, true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	child, err := svc.Refresh(ctx, root.Secret, ScopeReadWrite, 0, true)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if child.Secret == root.Secret {
		t.Fatalf("refresh must mint a new secret")
	}
	grandchild, err := svc.Refresh(ctx, child.Secret, ScopeReadonly, 0, false)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if grandchild.OwningUsername != "alice" {
		t.Fatalf("refresh chain lost the root owner: %q", grandchild.OwningUsername)
	}
}

func TestRefreshRules(t *testing.T) {
	svc, _ := newTestTokens(t)
	ctx := context.Background()

	fixed, err := svc.Issue(ctx, "alice", ScopeReadWrite, 0, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Refresh(ctx, fixed.Secret, ScopeReadonly, 0, false); err == nil {
		t.Fatalf("non-refreshable token must not refresh")
	}

	ro, err := svc.Issue(ctx, "alice", ScopeReadonly, 0, true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Refresh(ctx, ro.Secret, ScopeReadWrite, 0, false); err == nil {
		t.Fatalf("refresh must not widen scope")
	}
	if _, err := svc.Refresh(ctx, ro.Secret, ScopeReadonly, 0, false); err != nil {
		t.Fatalf("same-scope refresh: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestTokens(t)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, "alice", ScopeReadWrite, 0, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	svc.Revoke(ctx, tok.Secret)
	if _, ok := svc.Authenticate(ctx, tok.Secret, ScopeReadonly); ok {
		t.Fatalf("revoked token must not authenticate")
	}
	// Revoking twice, or an unknown secret, is a no-op.
	svc.Revoke(ctx, tok.Secret)
	svc.Revoke(ctx, "no-such-secret")
}
