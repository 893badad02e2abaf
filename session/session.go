// Package session implements the signed session cookie: an HMAC-SHA256
// authenticated payload carrying the user ID, absolute expiry, and the user's
// session version. Signature verification is stateless; only the
// session-version check touches the user store, which keeps ordinary page
// loads to a single indexed point lookup.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verification failure kinds. Callers must treat all of them identically
// (the user is not logged in) and never differentiate them in user-facing
// responses.
var (
	ErrInvalidSignature = errors.New("session: invalid signature")
	ErrExpired          = errors.New("session: expired")
	ErrVersionMismatch  = errors.New("session: version mismatch")
)

// Payload is the session state carried inside the signed cookie. It is never
// persisted server-side.
type Payload struct {
	UserID         string `json:"uid"`
	ExpiresAt      int64  `json:"exp"` // epoch millis
	SessionVersion int64  `json:"ver"`
}

// VersionStore resolves a user's current session version. Bumping the stored
// version invalidates every outstanding cookie for that user without a
// server-side session table.
type VersionStore interface {
	SessionVersion(ctx context.Context, userID string) (int64, error)
}

// Signer signs and verifies session cookie values. The signing secret is
// injected at construction; rotation is supported through additional
// verify-only secrets.
type Signer struct {
	secret        []byte
	verifySecrets [][]byte
	versions      VersionStore
	now           func() time.Time
}

// NewSigner creates a Signer. The secret must be non-empty: a missing
// session secret is an unrecoverable configuration error and fails fast
// here rather than producing forgeable cookies later.
func NewSigner(secret string, versions VersionStore) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("session: signing secret is required")
	}
	if versions == nil {
		return nil, fmt.Errorf("session: version store is required")
	}
	return &Signer{
		secret:   []byte(secret),
		versions: versions,
		now:      time.Now,
	}, nil
}

// AddVerifySecret registers an additional secret accepted at verification
// time. Issuance always uses the primary secret; old secrets stay valid for
// verification until their cookies age out.
func (s *Signer) AddVerifySecret(secret string) {
	if secret != "" {
		s.verifySecrets = append(s.verifySecrets, []byte(secret))
	}
}

// Sign serializes the payload deterministically and returns the cookie
// value: base64url(payload) + "." + base64url(HMAC-SHA256(payload)).
func (s *Signer) Sign(p Payload) (string, error) {
	if p.UserID == "" {
		return "", fmt.Errorf("session: payload user ID is required")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("session: marshal payload: %w", err)
	}
	mac := computeMAC(s.secret, raw)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify authenticates a cookie value and returns its payload. Checks run
// in order: signature (constant time, any registered secret), expiry, then
// the session-version comparison against the user store. Any store mismatch
// fails closed as ErrVersionMismatch.
func (s *Signer) Verify(ctx context.Context, cookieValue string) (Payload, error) {
	var p Payload

	payloadPart, macPart, ok := strings.Cut(cookieValue, ".")
	if !ok {
		return p, ErrInvalidSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return p, ErrInvalidSignature
	}
	mac, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return p, ErrInvalidSignature
	}

	if !s.validMAC(raw, mac) {
		return p, ErrInvalidSignature
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return p, ErrInvalidSignature
	}

	if s.now().UnixMilli() >= p.ExpiresAt {
		return Payload{}, ErrExpired
	}

	current, err := s.versions.SessionVersion(ctx, p.UserID)
	if err != nil {
		// Fail closed: an unknown user or store error means logged out
		return Payload{}, ErrVersionMismatch
	}
	if current != p.SessionVersion {
		return Payload{}, ErrVersionMismatch
	}

	return p, nil
}

// validMAC checks the payload MAC against the primary secret and every
// registered verify-only secret. hmac.Equal is constant time.
func (s *Signer) validMAC(raw, mac []byte) bool {
	if hmac.Equal(computeMAC(s.secret, raw), mac) {
		return true
	}
	for _, secret := range s.verifySecrets {
		if hmac.Equal(computeMAC(secret, raw), mac) {
			return true
		}
	}
	return false
}

func computeMAC(secret, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}
