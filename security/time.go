package security

import "time"

// DefaultClockSkewGracePeriod absorbs NTP drift between systems in expiry
// checks without meaningfully extending token lifetime
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired checks expiry with the default clock skew grace period
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod reports whether expiresAt has passed by more
// than gracePeriod. A zero expiresAt means no expiration.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// IsTokenExpiringSoon reports whether a token will expire within threshold
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(expiresAt)
}
