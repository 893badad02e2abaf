// Package testutil provides shared helpers for tests: random strings, PKCE
// pairs, and a controllable time source.
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/lakefield/authcore/pkce"
)

// GenerateRandomString returns n random bytes hex encoded (2n characters)
func GenerateRandomString(t *testing.T, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("read random bytes: %v", err)
	}
	return hex.EncodeToString(buf)
}

// PKCEPair returns a fresh RFC 7636 verifier and its S256 challenge
func PKCEPair() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, pkce.ChallengeS256(verifier)
}

// MockTime provides a controllable time source for deterministic tests
type MockTime struct {
	now time.Time
}

// NewMockTime creates a mock time provider fixed at t
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	return m.now
}

// Advance moves the mock time forward by d
func (m *MockTime) Advance(d time.Duration) {
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.now = t
}
