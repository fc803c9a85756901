package bank

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/regiobank/bankd/internal/platform/clock"
	"github.com/regiobank/bankd/internal/platform/random"
)

// DeliverySink sends a one-time code out of band. Implementations wrap
// SMS or email providers; tests capture the code. Delivery happens
// outside any state lock or transaction.
type DeliverySink interface {
	Deliver(ctx context.Context, channel TanChannel, address, code string) error
}

// TanPolicy holds the retry/expiry knobs. These are deployment
// configuration, not invariants.
type TanPolicy struct {
	CodeDigits int
	Retries    int
	Validity   time.Duration
}

func DefaultTanPolicy() TanPolicy {
	return TanPolicy{CodeDigits: 8, Retries: 3, Validity: time.Hour}
}

// TanService generates, stores, and validates one-time codes. It is
// agnostic of which operation it gates: callers stash a serialized body
// with the challenge and get it back on successful validation.
type TanService struct {
	Clock clock.Clock
	Rand  random.Source
	Sink  DeliverySink

	log     zerolog.Logger
	policy  TanPolicy
	metrics *Metrics

	mu         sync.Mutex
	challenges map[int64]*TanChallenge
	nextID     int64
	db         *sql.DB
}

func NewTanService(clk clock.Clock, rnd random.Source, sink DeliverySink, log zerolog.Logger, policy TanPolicy, db ...*sql.DB) *TanService {
	var handle *sql.DB
	if len(db) > 0 {
		handle = db[0]
	}
	if policy.CodeDigits <= 0 {
		policy.CodeDigits = 8
	}
	if policy.Retries <= 0 {
		policy.Retries = 3
	}
	if policy.Validity <= 0 {
		policy.Validity = time.Hour
	}
	return &TanService{
		Clock:      clk,
		Rand:       rnd,
		Sink:       sink,
		log:        log.With().Str("component", "tan").Logger(),
		policy:     policy,
		challenges: make(map[int64]*TanChallenge),
		nextID:     1,
		db:         handle,
	}
}

func (s *TanService) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Issue stores a fresh challenge and delivers its code via the sink. The
// address is not retained; only an informational hint is.
func (s *TanService) Issue(ctx context.Context, login, operationKind string, body []byte, channel TanChannel, address, info string) (int64, error) {
	code, err := s.Rand.Digits(s.policy.CodeDigits)
	if err != nil {
		return 0, fmt.Errorf("%w: generate code: %v", ErrInternal, err)
	}
	now := s.Clock.Now()

	s.mu.Lock()
	ch := &TanChallenge{
		ID:               s.nextID,
		OwningLogin:      login,
		OperationKind:    operationKind,
		Body:             body,
		Code:             code,
		CreatedAt:        now,
		ValidUntil:       now.Add(s.policy.Validity),
		RetriesRemaining: s.policy.Retries,
		Channel:          channel,
		Info:             info,
	}
	if err := s.persistChallenge(ctx, ch); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Str("login", login).Msg("persist challenge")
		return 0, fmt.Errorf("%w: persist challenge: %v", ErrInternal, err)
	}
	s.nextID++
	s.challenges[ch.ID] = ch
	s.mu.Unlock()

	// Out-of-band delivery stays outside the lock so a slow provider
	// never stalls validation.
	if err := s.Sink.Deliver(ctx, channel, address, code); err != nil {
		s.log.Warn().Err(err).Int64("challenge_id", ch.ID).Str("channel", string(channel)).Msg("tan delivery failed")
	}
	if s.metrics != nil {
		s.metrics.tanIssuedTotal.WithLabelValues(string(channel)).Inc()
	}
	return ch.ID, nil
}

// Validate checks a presented code against a stored challenge. Success
// consumes the challenge (single use) and returns its serialized body.
// Expiry and exhausted retries are terminal; a wrong code decrements the
// retry counter.
func (s *TanService) Validate(ctx context.Context, id int64, login, operationKind, code string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok || ch.OwningLogin != login || ch.OperationKind != operationKind {
		s.countValidation("not_found")
		return nil, ErrChallengeNotFound
	}
	if ch.Confirmed {
		s.countValidation("consumed")
		return nil, ErrChallengeNotFound
	}
	if s.Clock.Now().After(ch.ValidUntil) {
		s.countValidation("expired")
		return nil, ErrChallengeExpired
	}
	if ch.RetriesRemaining <= 0 {
		s.countValidation("exhausted")
		return nil, ErrRetriesExhausted
	}
	if ch.Code != code {
		ch.RetriesRemaining--
		if err := s.persistChallengeUpdate(ctx, ch); err != nil {
			s.log.Error().Err(err).Int64("challenge_id", id).Msg("persist retry decrement")
		}
		s.countValidation("mismatch")
		return nil, ErrCodeMismatch
	}

	ch.Confirmed = true
	if err := s.persistChallengeUpdate(ctx, ch); err != nil {
		ch.Confirmed = false
		s.log.Error().Err(err).Int64("challenge_id", id).Msg("persist challenge consumption")
		return nil, fmt.Errorf("%w: persist challenge: %v", ErrInternal, err)
	}
	s.countValidation("ok")
	return ch.Body, nil
}

// Status reports a challenge's state for "resume with code" flows without
// consuming a retry.
func (s *TanService) Status(ctx context.Context, id int64, login string) (TanChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok || ch.OwningLogin != login {
		return TanChallenge{}, ErrChallengeNotFound
	}
	snapshot := *ch
	snapshot.Code = ""
	return snapshot, nil
}

// Resend rotates the code of a still-pending challenge and delivers it
// again, resetting retries and expiry.
func (s *TanService) Resend(ctx context.Context, id int64, login string, address string) error {
	code, err := s.Rand.Digits(s.policy.CodeDigits)
	if err != nil {
		return fmt.Errorf("%w: generate code: %v", ErrInternal, err)
	}

	s.mu.Lock()
	ch, ok := s.challenges[id]
	if !ok || ch.OwningLogin != login {
		s.mu.Unlock()
		return ErrChallengeNotFound
	}
	if ch.Confirmed {
		s.mu.Unlock()
		return ErrChallengeNotFound
	}
	now := s.Clock.Now()
	ch.Code = code
	ch.RetriesRemaining = s.policy.Retries
	ch.ValidUntil = now.Add(s.policy.Validity)
	if err := s.persistChallengeUpdate(ctx, ch); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Int64("challenge_id", id).Msg("persist challenge resend")
		return fmt.Errorf("%w: persist challenge: %v", ErrInternal, err)
	}
	channel := ch.Channel
	s.mu.Unlock()

	if err := s.Sink.Deliver(ctx, channel, address, code); err != nil {
		s.log.Warn().Err(err).Int64("challenge_id", id).Msg("tan redelivery failed")
	}
	return nil
}

// Abandoned reports whether a challenge can no longer succeed (expired or
// out of retries). Pending operations gated by such a challenge must
// expose an abort path.
func (s *TanService) Abandoned(ctx context.Context, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return true
	}
	if ch.Confirmed {
		return false
	}
	return ch.RetriesRemaining <= 0 || s.Clock.Now().After(ch.ValidUntil)
}

func (s *TanService) countValidation(result string) {
	if s.metrics != nil {
		s.metrics.tanValidationsTotal.WithLabelValues(result).Inc()
	}
}
