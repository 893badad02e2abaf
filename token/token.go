// Package token implements the opaque token codec: cryptographically random
// token generation with type-identifying prefixes, and one-way hashing for
// storage. Plaintext tokens are returned to the caller exactly once at
// issuance and never persisted; all storage lookups use the SHA-256 digest.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// randomBytes is the number of random bytes drawn per token (256 bits of entropy).
const randomBytes = 32

// Prefixes used for newly issued tokens. The prefix is a routing hint for
// validation, not a security boundary.
const (
	PrefixAccess   = "at_"
	PrefixRefresh  = "rt_"
	PrefixAuthCode = "ac_"
)

// Legacy prefixes recognized at validation time only. Issuance always uses
// the current prefixes above. This table can be removed once all legacy
// tokens have aged past the 30-day refresh token lifetime.
const (
	legacyPrefixAccess  = "tok_"
	legacyPrefixRefresh = "ref_"
)

// Kind classifies a token by its prefix.
type Kind int

const (
	KindUnknown Kind = iota
	KindAccess
	KindRefresh
	KindAuthCode
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	case KindAuthCode:
		return "authorization_code"
	default:
		return "unknown"
	}
}

// Generate returns a new opaque token: prefix followed by 32 bytes from the
// CSPRNG, lower-hex encoded. A failure to read from the system entropy
// source is unrecoverable and panics rather than degrading to weak tokens.
func Generate(prefix string) string {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("token: CSPRNG unavailable: %v", err))
	}
	return prefix + hex.EncodeToString(buf)
}

// Hash returns the SHA-256 hex digest of a plaintext token. It is
// deterministic; stores index token records by this digest so plaintext
// never touches persistence.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// KindOf classifies a token by prefix, accepting both current and legacy
// prefix families. Purely informational: validation still resolves the
// token through its hash.
func KindOf(plaintext string) Kind {
	switch {
	case strings.HasPrefix(plaintext, PrefixAccess), strings.HasPrefix(plaintext, legacyPrefixAccess):
		return KindAccess
	case strings.HasPrefix(plaintext, PrefixRefresh), strings.HasPrefix(plaintext, legacyPrefixRefresh):
		return KindRefresh
	case strings.HasPrefix(plaintext, PrefixAuthCode):
		return KindAuthCode
	default:
		return KindUnknown
	}
}

// IsLegacy reports whether a token carries one of the legacy prefixes.
// Used only for diagnostics while the legacy family drains.
func IsLegacy(plaintext string) bool {
	return strings.HasPrefix(plaintext, legacyPrefixAccess) ||
		strings.HasPrefix(plaintext, legacyPrefixRefresh)
}
