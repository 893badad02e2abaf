package server

import (
	"io"
	"log/slog"
	"testing"
)

func TestApplySecureDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := applySecureDefaults(&Config{}, logger)

	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 2592000 {
		t.Errorf("RefreshTokenTTL = %d, want 2592000", config.RefreshTokenTTL)
	}
	if config.DefaultScope != "api" {
		t.Errorf("DefaultScope = %q, want api", config.DefaultScope)
	}
	if config.ClockSkewGracePeriod != 0 {
		t.Errorf("ClockSkewGracePeriod = %d, want 0", config.ClockSkewGracePeriod)
	}
}

func TestApplySecureDefaultsKeepsExplicitValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	config := applySecureDefaults(&Config{
		AuthorizationCodeTTL: 120,
		AccessTokenTTL:       1800,
		RefreshTokenTTL:      86400,
		DefaultScope:         "read",
	}, logger)

	if config.AuthorizationCodeTTL != 120 {
		t.Errorf("AuthorizationCodeTTL = %d, want 120", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 1800 {
		t.Errorf("AccessTokenTTL = %d, want 1800", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 86400 {
		t.Errorf("RefreshTokenTTL = %d, want 86400", config.RefreshTokenTTL)
	}
	if config.DefaultScope != "read" {
		t.Errorf("DefaultScope = %q, want read", config.DefaultScope)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"zero config", Config{}, false},
		{"sane config", Config{AuthorizationCodeTTL: 600, AccessTokenTTL: 3600, RefreshTokenTTL: 2592000}, false},
		{"negative code TTL", Config{AuthorizationCodeTTL: -1}, true},
		{"negative access TTL", Config{AccessTokenTTL: -1}, true},
		{"negative refresh TTL", Config{RefreshTokenTTL: -1}, true},
		{"negative grace period", Config{ClockSkewGracePeriod: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
