package storage

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashClientSecret hashes a client secret with bcrypt for storage. Backends
// validate presented secrets against this hash via bcrypt's constant-time
// comparison.
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("storage: client secret cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("storage: hash client secret: %w", err)
	}
	return string(hash), nil
}

// CheckClientSecret compares a presented secret against a stored bcrypt hash.
// The returned error is generic so callers cannot distinguish a wrong secret
// from a malformed hash.
func CheckClientSecret(hash, secret string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return fmt.Errorf("storage: invalid client credentials")
	}
	return nil
}
