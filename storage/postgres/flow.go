package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lakefield/authcore/storage"
)

const saveAuthorizationCode = `-- name: SaveAuthorizationCode
INSERT INTO oauth_authorization_codes
    (code_hash, user_id, client_id, redirect_uri, code_challenge, code_challenge_method, scope, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// SaveAuthorizationCode saves an issued authorization code record
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	_, err := s.db.Exec(ctx, saveAuthorizationCode,
		code.CodeHash, code.UserID, code.ClientID, code.RedirectURI,
		code.CodeChallenge, code.CodeChallengeMethod, code.Scope,
		code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

const consumeAuthorizationCode = `-- name: ConsumeAuthorizationCode
DELETE FROM oauth_authorization_codes
WHERE code_hash = $1
RETURNING code_hash, user_id, client_id, redirect_uri, code_challenge, code_challenge_method, scope, created_at, expires_at
`

// ConsumeAuthorizationCode atomically deletes and returns the record for
// codeHash. The single DELETE ... RETURNING is the exclusivity gate: under
// concurrent exchanges for the same code, exactly one statement returns a
// row and all others see zero rows.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	rows, _ := s.db.Query(ctx, consumeAuthorizationCode, codeHash)
	code, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (storage.AuthorizationCode, error) {
		var c storage.AuthorizationCode
		err := row.Scan(&c.CodeHash, &c.UserID, &c.ClientID, &c.RedirectURI,
			&c.CodeChallenge, &c.CodeChallengeMethod, &c.Scope, &c.CreatedAt, &c.ExpiresAt)
		return c, err
	})

	switch {
	case err == nil:
		return &code, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.ErrNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

const deleteExpiredAuthorizationCodes = `-- name: DeleteExpiredAuthorizationCodes
DELETE FROM oauth_authorization_codes
WHERE expires_at < $1
`

// DeleteExpiredAuthorizationCodes removes codes whose expiry has passed
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredAuthorizationCodes, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
