package auth

import "context"

func (s *TokenService) dbEnabled() bool {
	return s != nil && s.db != nil
}

func (s *TokenService) persistToken(ctx context.Context, tok *BearerToken) error {
	if !s.dbEnabled() {
		return nil
	}
	const q = `
INSERT INTO bearer_tokens (
  secret, scope, is_refreshable, creation_time, expiration_time, owning_username
)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := s.db.ExecContext(ctx, q,
		tok.Secret, string(tok.Scope), tok.IsRefreshable,
		tok.CreationTime, tok.ExpirationTime, tok.OwningUsername,
	)
	return err
}

func (s *TokenService) deleteToken(ctx context.Context, secret string) {
	if !s.dbEnabled() {
		return
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bearer_tokens WHERE secret = $1`, secret); err != nil {
		s.log.Warn().Err(err).Msg("delete token")
	}
}
