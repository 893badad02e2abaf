// Package pkce implements Proof Key for Code Exchange verification (RFC 7636,
// S256 only) and the redirect URI allowlist applied to authorization requests.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Code verifier length bounds per RFC 7636
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// MethodS256 is the only supported code challenge method. The "plain" method
// defeats the purpose of PKCE and is rejected at authorize time.
const MethodS256 = "S256"

// ChallengeS256 computes the S256 code challenge for a verifier:
// base64url (no padding) of the SHA-256 digest.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyS256 checks a code_verifier against a stored S256 code_challenge.
// The comparison is constant time to avoid leaking prefix matches.
func VerifyS256(verifier, challenge string) bool {
	if err := checkVerifierShape(verifier); err != nil {
		return false
	}
	computed := ChallengeS256(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// checkVerifierShape enforces the RFC 7636 verifier alphabet and length.
// Rejecting malformed verifiers up front prevents control characters or
// null bytes from reaching the hash comparison.
func checkVerifierShape(verifier string) error {
	if len(verifier) < MinVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinVerifierLength)
	}
	if len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxVerifierLength)
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}

// ValidateRedirectURI enforces the redirect URI allowlist: https to any host,
// or http(s) to a loopback host on any port (native/local clients). Plain
// HTTP to a non-loopback host, custom schemes, fragments, and unparseable
// values are all rejected. This prevents authorization codes from transiting
// insecure channels.
func ValidateRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	// OAuth 2.0 Security BCP Section 4.1.3: redirect_uri MUST NOT contain fragments
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "https":
		if parsed.Hostname() == "" {
			return fmt.Errorf("redirect_uri must include a host")
		}
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return fmt.Errorf("http redirect_uri is only allowed for loopback hosts")
	default:
		return fmt.Errorf("redirect_uri scheme %q is not allowed (https or loopback http only)", parsed.Scheme)
	}
}

// isLoopbackHost reports whether a hostname refers to the local machine:
// "localhost", the entire 127.0.0.0/8 range, ::1, and IPv4-mapped loopback.
func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}

	// url.Hostname() strips brackets from IPv6 literals, but be defensive
	clean := strings.Trim(hostname, "[]")
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
