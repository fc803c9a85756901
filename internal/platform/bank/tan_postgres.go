package bank

import (
	"context"
	"time"
)

func (s *TanService) dbEnabled() bool {
	return s != nil && s.db != nil
}

func (s *TanService) persistChallenge(ctx context.Context, ch *TanChallenge) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
INSERT INTO tan_challenges (
  id, owning_login, operation_kind, body, code,
  created_at, valid_until, retries_remaining, channel, info, confirmed
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := s.db.ExecContext(ctx, q,
		ch.ID, ch.OwningLogin, ch.OperationKind, ch.Body, ch.Code,
		ch.CreatedAt, ch.ValidUntil, ch.RetriesRemaining,
		string(ch.Channel), ch.Info, ch.Confirmed,
	)
	return err
}

func (s *TanService) persistChallengeUpdate(ctx context.Context, ch *TanChallenge) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
UPDATE tan_challenges
SET code = $2, retries_remaining = $3, valid_until = $4, confirmed = $5
WHERE id = $1
`
	_, err := s.db.ExecContext(ctx, q, ch.ID, ch.Code, ch.RetriesRemaining, ch.ValidUntil, ch.Confirmed)
	return err
}

// CleanupExpiredChallenges removes challenges that can no longer succeed,
// in bounded batches so the delete never holds long locks.
func (s *TanService) CleanupExpiredChallenges(ctx context.Context, batchSize int) (int64, error) {
	if !s.dbEnabled() {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	const q = `
WITH doomed AS (
  SELECT ctid
  FROM tan_challenges
  WHERE valid_until <= NOW() AND NOT confirmed
  ORDER BY valid_until ASC
  LIMIT $1
)
DELETE FROM tan_challenges
WHERE ctid IN (SELECT ctid FROM doomed)
`
	res, err := s.db.ExecContext(ctx, q, batchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartCleanupWorker periodically prunes expired challenges until the
// context is cancelled.
func (s *TanService) StartCleanupWorker(ctx context.Context, interval time.Duration, batchSize int) {
	if !s.dbEnabled() || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					deleted, err := s.CleanupExpiredChallenges(ctx, batchSize)
					if err != nil {
						s.log.Warn().Err(err).Msg("challenge cleanup failed")
						break
					}
					if deleted == 0 {
						break
					}
					s.log.Debug().Int64("deleted", deleted).Msg("pruned expired challenges")
					if deleted < int64(batchSize) {
						break
					}
				}
			}
		}
	}()
}
