// Package storage defines the records and interfaces for persisting OAuth
// artifacts: authorization codes, access tokens, refresh tokens, and client
// registrations. It supports in-memory and relational backend implementations.
//
// Plaintext tokens never reach this layer. Every record is keyed by the
// SHA-256 hex digest of the token, computed by the token package at issuance.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by all backends. Messages stay generic: flow logic
// maps every miss to invalid_grant without distinguishing the cause.
var (
	ErrNotFound  = errors.New("storage: record not found")
	ErrDuplicate = errors.New("storage: record already exists")
)

// AuthorizationCode is a short-lived, one-time-use record binding a user,
// client, redirect URI, and PKCE challenge. The record is deleted atomically
// with the exchange.
type AuthorizationCode struct {
	CodeHash            string // SHA-256 of the plaintext code, unique
	UserID              string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string // "S256" only
	Scope               string
	CreatedAt           time.Time
	ExpiresAt           time.Time // CreatedAt + 10 minutes
}

// AccessToken is a bearer credential record, read on every protected API call.
type AccessToken struct {
	ID         uuid.UUID
	TokenHash  string // unique
	UserID     string
	ClientID   string
	Scope      string
	CreatedAt  time.Time
	ExpiresAt  time.Time  // CreatedAt + 1 hour
	LastUsedAt *time.Time // nil until first validated; updated best-effort
}

// RefreshToken mints new access tokens without re-authorization.
// AccessTokenID always references the most recently minted access token.
type RefreshToken struct {
	ID            uuid.UUID
	TokenHash     string // unique
	UserID        string
	ClientID      string
	AccessTokenID uuid.UUID
	CreatedAt     time.Time
	ExpiresAt     time.Time // CreatedAt + 30 days
}

// Client is a statically provisioned OAuth client. There is no dynamic
// registration surface; records are seeded at deploy time.
type Client struct {
	ClientID     string
	SecretHash   string // bcrypt hash; empty for public clients
	Name         string
	RedirectURIs []string
	Scopes       []string
	CreatedAt    time.Time
}

// ConnectedApp summarizes a client a user has authorized, derived from
// refresh tokens (a more durable signal of "connected" than access tokens).
type ConnectedApp struct {
	ClientID    string
	ConnectedAt time.Time // earliest refresh token CreatedAt for this client
}

// FlowStore persists authorization codes.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code record
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically deletes the record for codeHash and
	// returns it. The delete is the exclusivity gate: of N concurrent
	// consumers exactly one receives the record, all others get ErrNotFound.
	// Backends must implement this as a single conditional delete, never
	// read-then-delete.
	ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	// DeleteExpiredAuthorizationCodes removes codes whose expiry has passed,
	// returning the number deleted.
	DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int, error)
}

// TokenStore persists access and refresh token records.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveAccessToken saves a new access token record
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token record by token hash
	GetAccessToken(ctx context.Context, tokenHash string) (*AccessToken, error)

	// TouchAccessToken updates LastUsedAt for a token. Best effort: callers
	// fire and forget, and a failure must never affect an authorization
	// decision.
	TouchAccessToken(ctx context.Context, id uuid.UUID, when time.Time) error

	// SaveRefreshToken saves a new refresh token record
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token record by token hash
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// RebindRefreshToken points a refresh token at a newly minted access token
	RebindRefreshToken(ctx context.Context, id uuid.UUID, accessTokenID uuid.UUID) error

	// DeleteRefreshToken removes a refresh token record by token hash
	DeleteRefreshToken(ctx context.Context, tokenHash string) error

	// RevokeClientTokens deletes all refresh tokens then all access tokens
	// for a (userID, clientID) pair, returning the total number deleted.
	// Children (refresh tokens) go first in case the backend enforces a
	// foreign key to access tokens.
	RevokeClientTokens(ctx context.Context, userID, clientID string) (int, error)

	// DeleteExpiredTokens removes access and refresh tokens whose expiry has
	// passed, returning the number deleted.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)

	// ListConnectedApps returns the distinct clients for which the user holds
	// refresh tokens, each with the earliest token creation time.
	ListConnectedApps(ctx context.Context, userID string) ([]ConnectedApp, error)
}

// ClientStore resolves statically provisioned OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a confidential client's secret against
	// its bcrypt hash. The error is generic regardless of whether the client
	// exists or the secret mismatched.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// UserStore is the contract with the external user/account store. The core
// consumes two attributes: the per-user session version (bumped to revoke
// all sessions) and the opaque capability tags used by the capability gate.
type UserStore interface {
	// SessionVersion returns the user's current session version
	SessionVersion(ctx context.Context, userID string) (int64, error)

	// Capabilities returns the user's capability tags
	Capabilities(ctx context.Context, userID string) ([]string, error)
}
