package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/lakefield/authcore/storage"
)

// Burned when the client is unknown so a missing client costs the same as a
// wrong secret.
const dummySecretHash = "$2a$10$0000000000000000000000uGZqC5zQg1PQQnbb0f0vOMzVTxXhxBG"

const getClient = `-- name: GetClient
SELECT client_id, secret_hash, name, redirect_uris, scopes, created_at
FROM oauth_clients
WHERE client_id = $1
`

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	rows, _ := s.db.Query(ctx, getClient, clientID)
	client, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (storage.Client, error) {
		var c storage.Client
		err := row.Scan(&c.ClientID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.Scopes, &c.CreatedAt)
		return c, err
	})

	switch {
	case err == nil:
		return &client, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, storage.ErrNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

// ValidateClientSecret validates a confidential client's secret. Unknown
// clients, public clients, and secret mismatches all return the same error.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(clientSecret))
		return fmt.Errorf("storage: invalid client credentials")
	}
	if client.SecretHash == "" {
		bcrypt.CompareHashAndPassword([]byte(dummySecretHash), []byte(clientSecret))
		return fmt.Errorf("storage: invalid client credentials")
	}
	return storage.CheckClientSecret(client.SecretHash, clientSecret)
}

const upsertClient = `-- name: UpsertClient
INSERT INTO oauth_clients (client_id, secret_hash, name, redirect_uris, scopes, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (client_id) DO UPDATE
SET secret_hash = EXCLUDED.secret_hash,
    name = EXCLUDED.name,
    redirect_uris = EXCLUDED.redirect_uris,
    scopes = EXCLUDED.scopes
`

// UpsertClient seeds or updates a statically provisioned client. Intended for
// deploy-time provisioning, not a runtime registration surface.
func (s *Store) UpsertClient(ctx context.Context, client *storage.Client) error {
	_, err := s.db.Exec(ctx, upsertClient,
		client.ClientID, client.SecretHash, client.Name,
		client.RedirectURIs, client.Scopes, client.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
