package server

import (
	"fmt"
	"log/slog"
)

// Config holds OAuth flow configuration. TTLs are expressed in seconds.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Informational;
	// surfaced in logs and metadata, not embedded in tokens.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// DefaultScope is granted when a refresh request has no scope on record
	DefaultScope string // default: "api"

	// ClockSkewGracePeriod extends bearer token expiry checks to absorb
	// clock drift between systems. Applies only to bearer validation, never
	// to authorization code expiry.
	ClockSkewGracePeriod int64 // seconds, default: 0
}

// applySecureDefaults fills zero-valued configuration with defaults and
// warns about settings that weaken the expiry guarantees.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if config.DefaultScope == "" {
		config.DefaultScope = "api"
	}

	if config.ClockSkewGracePeriod > 30 {
		logger.Warn("Large clock skew grace period configured",
			"grace_seconds", config.ClockSkewGracePeriod,
			"recommendation", "keep the grace period under 30 seconds")
	}
	if config.AuthorizationCodeTTL > 600 {
		logger.Warn("Authorization code TTL exceeds 10 minutes",
			"ttl_seconds", config.AuthorizationCodeTTL,
			"recommendation", "authorization codes should be short-lived")
	}

	return config
}

// validate rejects configurations that cannot produce a working server
func (c *Config) validate() error {
	if c.AuthorizationCodeTTL < 0 {
		return fmt.Errorf("authorization code TTL cannot be negative")
	}
	if c.AccessTokenTTL < 0 {
		return fmt.Errorf("access token TTL cannot be negative")
	}
	if c.RefreshTokenTTL < 0 {
		return fmt.Errorf("refresh token TTL cannot be negative")
	}
	if c.ClockSkewGracePeriod < 0 {
		return fmt.Errorf("clock skew grace period cannot be negative")
	}
	return nil
}
