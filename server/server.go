package server

import (
	"fmt"
	"log/slog"

	"github.com/lakefield/authcore/instrumentation"
	"github.com/lakefield/authcore/security"
	"github.com/lakefield/authcore/session"
	"github.com/lakefield/authcore/storage"
)

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used when logging token and code prefixes.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server orchestrates the OAuth2 authorization-code-with-PKCE flow over the
// storage interfaces. All operations are short-lived request handlers; the
// only background work lives in the storage backends.
type Server struct {
	flowStore   storage.FlowStore
	tokenStore  storage.TokenStore
	clientStore storage.ClientStore
	sessions    *session.Signer

	Auditor *security.Auditor
	// SecurityEventRateLimiter bounds security event logging so repeated
	// failures cannot flood the log
	SecurityEventRateLimiter *security.RateLimiter
	Logger                   *slog.Logger
	Config                   *Config

	inst *instrumentation.Instrumentation
}

// New creates a new OAuth flow server
func New(
	flowStore storage.FlowStore,
	tokenStore storage.TokenStore,
	clientStore storage.ClientStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Server{
		flowStore:   flowStore,
		tokenStore:  tokenStore,
		clientStore: clientStore,
		Config:      config,
		Logger:      logger,
	}, nil
}

// SetSessionSigner sets the session signer used by Authorize to resolve the
// current user from a session cookie. Without it, callers must resolve the
// user themselves and pass UserID on the request.
func (s *Server) SetSessionSigner(signer *session.Signer) {
	s.sessions = signer
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation for flow metrics
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// metrics returns the metrics holder, or nil when instrumentation is unset
func (s *Server) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}

// allowSecurityLog reports whether a security event for the given identifier
// should be logged, consulting the rate limiter when one is configured
func (s *Server) allowSecurityLog(identifier string) bool {
	return s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(identifier)
}
