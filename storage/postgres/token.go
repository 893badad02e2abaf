package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lakefield/authcore/storage"
)

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return storage.ErrDuplicate
	}
	return fmt.Errorf("db error: %w", err)
}

const saveAccessToken = `-- name: SaveAccessToken
INSERT INTO oauth_access_tokens
    (id, token_hash, user_id, client_id, scope, created_at, expires_at, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// SaveAccessToken saves a new access token record
func (s *Store) SaveAccessToken(ctx context.Context, tok *storage.AccessToken) error {
	_, err := s.db.Exec(ctx, saveAccessToken,
		tok.ID, tok.TokenHash, tok.UserID, tok.ClientID, tok.Scope,
		tok.CreatedAt, tok.ExpiresAt, tok.LastUsedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

const getAccessToken = `-- name: GetAccessToken
SELECT id, token_hash, user_id, client_id, scope, created_at, expires_at, last_used_at
FROM oauth_access_tokens
WHERE token_hash = $1
`

// GetAccessToken retrieves an access token record by token hash
func (s *Store) GetAccessToken(ctx context.Context, tokenHash string) (*storage.AccessToken, error) {
	rows, _ := s.db.Query(ctx, getAccessToken, tokenHash)
	tok, err := pgx.CollectOneRow(rows, rowToAccessToken)

	switch {
	case err == nil:
		return &tok, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.ErrNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

const touchAccessToken = `-- name: TouchAccessToken
UPDATE oauth_access_tokens
SET last_used_at = $2
WHERE id = $1
`

// TouchAccessToken updates LastUsedAt. Zero rows affected is not an error:
// the record may have been swept between validation and touch.
func (s *Store) TouchAccessToken(ctx context.Context, id uuid.UUID, when time.Time) error {
	if _, err := s.db.Exec(ctx, touchAccessToken, id, when); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const saveRefreshToken = `-- name: SaveRefreshToken
INSERT INTO oauth_refresh_tokens
    (id, token_hash, user_id, client_id, access_token_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// SaveRefreshToken saves a new refresh token record
func (s *Store) SaveRefreshToken(ctx context.Context, tok *storage.RefreshToken) error {
	_, err := s.db.Exec(ctx, saveRefreshToken,
		tok.ID, tok.TokenHash, tok.UserID, tok.ClientID, tok.AccessTokenID,
		tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

const getRefreshToken = `-- name: GetRefreshToken
SELECT id, token_hash, user_id, client_id, access_token_id, created_at, expires_at
FROM oauth_refresh_tokens
WHERE token_hash = $1
`

// GetRefreshToken retrieves a refresh token record by token hash
func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*storage.RefreshToken, error) {
	rows, _ := s.db.Query(ctx, getRefreshToken, tokenHash)
	tok, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return &tok, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.ErrNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

const rebindRefreshToken = `-- name: RebindRefreshToken
UPDATE oauth_refresh_tokens
SET access_token_id = $2
WHERE id = $1
`

// RebindRefreshToken points a refresh token at a newly minted access token
func (s *Store) RebindRefreshToken(ctx context.Context, id uuid.UUID, accessTokenID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, rebindRefreshToken, id, accessTokenID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const deleteRefreshToken = `-- name: DeleteRefreshToken
DELETE FROM oauth_refresh_tokens
WHERE token_hash = $1
`

// DeleteRefreshToken removes a refresh token record by token hash
func (s *Store) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	tag, err := s.db.Exec(ctx, deleteRefreshToken, tokenHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const revokeRefreshTokens = `-- name: RevokeRefreshTokens
DELETE FROM oauth_refresh_tokens
WHERE user_id = $1 AND client_id = $2
`

const revokeAccessTokens = `-- name: RevokeAccessTokens
DELETE FROM oauth_access_tokens
WHERE user_id = $1 AND client_id = $2
`

// RevokeClientTokens deletes all refresh tokens then all access tokens for a
// (userID, clientID) pair. Refresh tokens go first so a concurrent refresh
// cannot re-mint from a token this call is about to remove.
func (s *Store) RevokeClientTokens(ctx context.Context, userID, clientID string) (int, error) {
	deleted := 0

	tag, err := s.db.Exec(ctx, revokeRefreshTokens, userID, clientID)
	if err != nil {
		return deleted, fmt.Errorf("db error: %w", err)
	}
	deleted += int(tag.RowsAffected())

	tag, err = s.db.Exec(ctx, revokeAccessTokens, userID, clientID)
	if err != nil {
		return deleted, fmt.Errorf("db error: %w", err)
	}
	deleted += int(tag.RowsAffected())

	return deleted, nil
}

const deleteExpiredRefreshTokens = `-- name: DeleteExpiredRefreshTokens
DELETE FROM oauth_refresh_tokens
WHERE expires_at < $1
`

const deleteExpiredAccessTokens = `-- name: DeleteExpiredAccessTokens
DELETE FROM oauth_access_tokens
WHERE expires_at < $1
`

// DeleteExpiredTokens removes access and refresh tokens whose expiry has passed
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	deleted := 0

	tag, err := s.db.Exec(ctx, deleteExpiredRefreshTokens, now)
	if err != nil {
		return deleted, fmt.Errorf("db error: %w", err)
	}
	deleted += int(tag.RowsAffected())

	tag, err = s.db.Exec(ctx, deleteExpiredAccessTokens, now)
	if err != nil {
		return deleted, fmt.Errorf("db error: %w", err)
	}
	deleted += int(tag.RowsAffected())

	return deleted, nil
}

const listConnectedApps = `-- name: ListConnectedApps
SELECT client_id, MIN(created_at) AS connected_at
FROM oauth_refresh_tokens
WHERE user_id = $1
GROUP BY client_id
ORDER BY connected_at
`

// ListConnectedApps returns the distinct clients for which the user holds
// refresh tokens, each with the earliest token creation time
func (s *Store) ListConnectedApps(ctx context.Context, userID string) ([]storage.ConnectedApp, error) {
	rows, _ := s.db.Query(ctx, listConnectedApps, userID)
	apps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ConnectedApp, error) {
		var a storage.ConnectedApp
		err := row.Scan(&a.ClientID, &a.ConnectedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return apps, nil
}

func rowToAccessToken(row pgx.CollectableRow) (storage.AccessToken, error) {
	var t storage.AccessToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ClientID, &t.Scope,
		&t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt)
	return t, err
}

func rowToRefreshToken(row pgx.CollectableRow) (storage.RefreshToken, error) {
	var t storage.RefreshToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ClientID, &t.AccessTokenID,
		&t.CreatedAt, &t.ExpiresAt)
	return t, err
}
