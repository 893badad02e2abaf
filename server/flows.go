package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/lakefield/authcore"
	"github.com/lakefield/authcore/pkce"
	"github.com/lakefield/authcore/security"
	"github.com/lakefield/authcore/session"
	"github.com/lakefield/authcore/storage"
	"github.com/lakefield/authcore/token"
)

// ErrLoginRequired is returned by Authorize when no authenticated user can be
// resolved. Callers redirect to login and back rather than failing the flow.
var ErrLoginRequired = errors.New("authentication required")

// AuthorizeRequest carries the parameters of an interactive authorization
// request. Either UserID (already resolved by the caller) or SessionCookie
// (resolved here via the session signer) identifies the user.
type AuthorizeRequest struct {
	UserID        string
	SessionCookie string

	ClientID            string
	RedirectURI         string
	ResponseType        string // empty or "code"
	CodeChallenge       string
	CodeChallengeMethod string // empty or "S256"
	Scope               string
	State               string
}

// AuthorizeResult is the outcome of a successful authorization: the plaintext
// code to deliver to the client's redirect URI, with the client state echoed
// back for CSRF verification.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
}

// TokenInfo is the result of a successful bearer token validation
type TokenInfo struct {
	TokenID  uuid.UUID
	UserID   string
	ClientID string
	Scope    string
}

// Authorize validates an interactive authorization request and issues an
// authorization code for the resolved user. Parameter problems are reported
// as structured OAuth errors; a missing or rejected session yields
// ErrLoginRequired so the caller can bounce through login.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	if req.ResponseType != "" && req.ResponseType != "code" {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "unsupported_response_type")
		}
		return nil, authcore.ErrUnsupportedResponseType(
			fmt.Sprintf("response_type %q is not supported (only \"code\")", req.ResponseType))
	}

	if req.CodeChallenge == "" {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "missing_pkce_parameters")
		}
		return nil, authcore.ErrInvalidRequest("code_challenge is required (PKCE, RFC 7636)")
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != pkce.MethodS256 {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "unsupported_code_challenge_method")
		}
		return nil, authcore.ErrInvalidRequest(
			fmt.Sprintf("code_challenge_method %q is not supported (only S256)", req.CodeChallengeMethod))
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "unknown_client")
		}
		return nil, authcore.ErrInvalidClient("unknown client")
	}

	if err := pkce.ValidateRedirectURI(req.RedirectURI); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "redirect_uri_rejected")
		}
		return nil, authcore.ErrInvalidRequest(fmt.Sprintf("invalid redirect_uri: %v", err))
	}
	if !slices.Contains(client.RedirectURIs, req.RedirectURI) {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "redirect_uri_not_registered")
		}
		return nil, authcore.ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	if err := validateScopes(client, req.Scope); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", req.ClientID, "", "invalid_scope")
		}
		return nil, authcore.ErrInvalidRequest(err.Error())
	}

	userID, err := s.resolveUser(ctx, req)
	if err != nil {
		return nil, err
	}

	code, err := s.IssueAuthorizationCode(ctx, userID, req.ClientID, req.RedirectURI,
		req.CodeChallenge, req.CodeChallengeMethod, req.Scope)
	if err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

// resolveUser identifies the user behind an authorization request: an
// already-resolved UserID wins, otherwise the session cookie is verified.
// Every session failure kind maps to ErrLoginRequired.
func (s *Server) resolveUser(ctx context.Context, req *AuthorizeRequest) (string, error) {
	if req.UserID != "" {
		return req.UserID, nil
	}
	if req.SessionCookie == "" || s.sessions == nil {
		return "", ErrLoginRequired
	}

	payload, err := s.sessions.Verify(ctx, req.SessionCookie)
	if err != nil {
		kind := "invalid_signature"
		switch {
		case errors.Is(err, session.ErrExpired):
			kind = "expired"
		case errors.Is(err, session.ErrVersionMismatch):
			kind = "version_mismatch"
		}
		if m := s.metrics(); m != nil {
			m.RecordSessionRejection(ctx, kind)
		}
		if s.Auditor != nil {
			s.Auditor.LogSessionRejected("", kind)
		}
		return "", ErrLoginRequired
	}
	return payload.UserID, nil
}

// validateScopes checks each requested scope against the client's registered
// scopes. A client with no registered scopes accepts any request.
func validateScopes(client *storage.Client, scope string) error {
	if scope == "" || len(client.Scopes) == 0 {
		return nil
	}
	for _, requested := range strings.Fields(scope) {
		if !slices.Contains(client.Scopes, requested) {
			return fmt.Errorf("scope %q is not registered for this client", requested)
		}
	}
	return nil
}

// IssueAuthorizationCode mints a one-time authorization code binding the
// user, client, redirect URI, and PKCE challenge. The redirect URI and PKCE
// method are re-validated here even though Authorize already checked them, so
// a direct caller cannot skip the checks. Returns the plaintext code; only
// its hash is stored.
func (s *Server) IssueAuthorizationCode(ctx context.Context, userID, clientID, redirectURI, codeChallenge, codeChallengeMethod, scope string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}
	if codeChallenge == "" {
		return "", authcore.ErrInvalidRequest("code_challenge is required (PKCE, RFC 7636)")
	}
	if codeChallengeMethod == "" {
		codeChallengeMethod = pkce.MethodS256
	}
	if codeChallengeMethod != pkce.MethodS256 {
		return "", authcore.ErrInvalidRequest(
			fmt.Sprintf("code_challenge_method %q is not supported (only S256)", codeChallengeMethod))
	}
	if err := pkce.ValidateRedirectURI(redirectURI); err != nil {
		return "", authcore.ErrInvalidRequest(fmt.Sprintf("invalid redirect_uri: %v", err))
	}

	plaintext := token.Generate(token.PrefixAuthCode)
	now := time.Now()

	record := &storage.AuthorizationCode{
		CodeHash:            token.Hash(plaintext),
		UserID:              userID,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Scope:               scope,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, record); err != nil {
		s.Logger.Error("Failed to save authorization code", "error", err, "client_id", clientID)
		return "", authcore.ErrServerError("internal error")
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, clientID)
	}
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     "authorization_code_issued",
			UserID:   userID,
			ClientID: clientID,
			Details: map[string]any{
				"scope":        scope,
				"redirect_uri": redirectURI,
			},
		})
	}

	return plaintext, nil
}

// ExchangeAuthorizationCode exchanges an authorization code for an access and
// refresh token pair. Every validation failure collapses to invalid_grant
// with no distinguishing detail; the reasons are logged server-side only.
//
// The code is consumed atomically before any further checks, so of N racing
// exchanges for the same code exactly one proceeds past the consume and the
// rest fail, and a code that fails a later check is already burned.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, string, error) {
	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, token.Hash(code))
	if err != nil {
		return nil, "", s.exchangeFailure(ctx, "", "code_not_found", code)
	}

	now := time.Now()
	if now.After(authCode.ExpiresAt) {
		return nil, "", s.exchangeFailure(ctx, authCode.ClientID, "code_expired", code)
	}
	if authCode.RedirectURI != redirectURI {
		return nil, "", s.exchangeFailure(ctx, authCode.ClientID, "redirect_uri_mismatch", code)
	}
	if !pkce.VerifyS256(codeVerifier, authCode.CodeChallenge) {
		return nil, "", s.exchangeFailure(ctx, authCode.ClientID, "pkce_verification_failed", code)
	}

	accessPlaintext := token.Generate(token.PrefixAccess)
	accessRecord := &storage.AccessToken{
		ID:        uuid.New(),
		TokenHash: token.Hash(accessPlaintext),
		UserID:    authCode.UserID,
		ClientID:  authCode.ClientID,
		Scope:     authCode.Scope,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveAccessToken(ctx, accessRecord); err != nil {
		s.Logger.Error("Failed to save access token", "error", err, "client_id", authCode.ClientID)
		return nil, "", authcore.ErrServerError("internal error")
	}

	refreshPlaintext := token.Generate(token.PrefixRefresh)
	refreshRecord := &storage.RefreshToken{
		ID:            uuid.New(),
		TokenHash:     token.Hash(refreshPlaintext),
		UserID:        authCode.UserID,
		ClientID:      authCode.ClientID,
		AccessTokenID: accessRecord.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveRefreshToken(ctx, refreshRecord); err != nil {
		s.Logger.Error("Failed to save refresh token", "error", err, "client_id", authCode.ClientID)
		return nil, "", authcore.ErrServerError("internal error")
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, authCode.ClientID, true)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.UserID, authCode.ClientID, "", authCode.Scope)
	}

	return &oauth2.Token{
		AccessToken:  accessPlaintext,
		RefreshToken: refreshPlaintext,
		TokenType:    "Bearer",
		Expiry:       accessRecord.ExpiresAt,
	}, authCode.Scope, nil
}

// exchangeFailure logs the real reason for a failed exchange server-side and
// returns the undifferentiated invalid_grant the client sees
func (s *Server) exchangeFailure(ctx context.Context, clientID, reason, code string) error {
	s.Logger.Debug("Authorization code exchange failed",
		"reason", reason,
		"client_id", clientID,
		"code_prefix", safeTruncate(code, 8))

	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, false)
	}
	if s.Auditor != nil && s.allowSecurityLog(clientID+":exchange") {
		s.Auditor.LogAuthFailure("", clientID, "", reason)
	}
	return authcore.ErrInvalidGrant("invalid grant")
}

// RefreshAccessToken mints a new access token from a refresh token. The
// refresh token is not rotated: the same plaintext remains valid until its
// own expiry, and its record is rebound to the newly minted access token.
// The superseded access token is left to expire naturally.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, string, error) {
	record, err := s.tokenStore.GetRefreshToken(ctx, token.Hash(refreshToken))
	if err != nil {
		return nil, "", s.refreshFailure(ctx, "", "refresh_token_not_found", refreshToken)
	}

	now := time.Now()
	if now.After(record.ExpiresAt) {
		if err := s.tokenStore.DeleteRefreshToken(ctx, record.TokenHash); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.Logger.Warn("Failed to delete expired refresh token", "error", err)
		}
		return nil, "", s.refreshFailure(ctx, record.ClientID, "refresh_token_expired", refreshToken)
	}

	scope := s.Config.DefaultScope

	accessPlaintext := token.Generate(token.PrefixAccess)
	accessRecord := &storage.AccessToken{
		ID:        uuid.New(),
		TokenHash: token.Hash(accessPlaintext),
		UserID:    record.UserID,
		ClientID:  record.ClientID,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokenStore.SaveAccessToken(ctx, accessRecord); err != nil {
		s.Logger.Error("Failed to save refreshed access token", "error", err, "client_id", record.ClientID)
		return nil, "", authcore.ErrServerError("internal error")
	}

	if err := s.tokenStore.RebindRefreshToken(ctx, record.ID, accessRecord.ID); err != nil {
		// The refresh token was revoked between lookup and rebind. The minted
		// access token must not survive a revoked parent.
		s.Logger.Warn("Refresh token disappeared during refresh", "error", err, "client_id", record.ClientID)
		return nil, "", s.refreshFailure(ctx, record.ClientID, "refresh_token_revoked", refreshToken)
	}

	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, record.ClientID, true)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(record.UserID, record.ClientID, "", false)
	}

	return &oauth2.Token{
		AccessToken:  accessPlaintext,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       accessRecord.ExpiresAt,
	}, scope, nil
}

// refreshFailure logs the real reason for a failed refresh server-side and
// returns the undifferentiated invalid_grant the client sees
func (s *Server) refreshFailure(ctx context.Context, clientID, reason, refreshToken string) error {
	s.Logger.Debug("Access token refresh failed",
		"reason", reason,
		"client_id", clientID,
		"token_prefix", safeTruncate(refreshToken, 8))

	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, clientID, false)
	}
	if s.Auditor != nil && s.allowSecurityLog(clientID+":refresh") {
		s.Auditor.LogAuthFailure("", clientID, "", reason)
	}
	return authcore.ErrInvalidGrant("invalid grant")
}

// ValidateToken validates a bearer access token presented on a protected API
// call. Unknown and expired tokens both come back as a 401-kind error with a
// generic message. The last-used timestamp is updated in a fire-and-forget
// goroutine whose outcome never affects the authorization decision.
func (s *Server) ValidateToken(ctx context.Context, bearer string) (*TokenInfo, error) {
	legacy := token.IsLegacy(bearer)

	record, err := s.tokenStore.GetAccessToken(ctx, token.Hash(bearer))
	if err != nil {
		return nil, s.validationFailure(ctx, legacy, "token_not_found", bearer)
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsTokenExpiredWithGracePeriod(record.ExpiresAt, grace) {
		return nil, s.validationFailure(ctx, legacy, "token_expired", bearer)
	}

	go func(id uuid.UUID) {
		// Best effort; errors are discarded here and nowhere else
		_ = s.tokenStore.TouchAccessToken(context.WithoutCancel(ctx), id, time.Now())
	}(record.ID)

	if m := s.metrics(); m != nil {
		m.RecordTokenValidation(ctx, true, legacy)
	}

	return &TokenInfo{
		TokenID:  record.ID,
		UserID:   record.UserID,
		ClientID: record.ClientID,
		Scope:    record.Scope,
	}, nil
}

// validationFailure logs the real reason for a rejected bearer token
// server-side and returns the generic 401-kind error the client sees
func (s *Server) validationFailure(ctx context.Context, legacy bool, reason, bearer string) error {
	s.Logger.Debug("Bearer token rejected",
		"reason", reason,
		"legacy_prefix", legacy,
		"token_prefix", safeTruncate(bearer, 8))

	if m := s.metrics(); m != nil {
		m.RecordTokenValidation(ctx, false, legacy)
	}
	if s.Auditor != nil && s.allowSecurityLog("bearer:"+safeTruncate(bearer, 8)) {
		s.Auditor.LogAuthFailure("", "", "", reason)
	}
	return authcore.ErrInvalidToken("invalid or expired token")
}

// RevokeClientTokens deletes every refresh and access token for a
// (userID, clientID) pair. Used for client- and user-initiated disconnects.
func (s *Server) RevokeClientTokens(ctx context.Context, userID, clientID string) error {
	deleted, err := s.tokenStore.RevokeClientTokens(ctx, userID, clientID)
	if err != nil {
		s.Logger.Error("Failed to revoke client tokens",
			"error", err, "client_id", clientID)
		return authcore.ErrServerError("internal error")
	}

	s.Logger.Info("Revoked client tokens",
		"client_id", clientID,
		"tokens_deleted", deleted)

	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, clientID, deleted)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked(userID, clientID, "", "all")
	}
	return nil
}

// CleanupExpired sweeps expired authorization codes and tokens. Designed to
// run on a periodic schedule external to this package; the memory backend
// additionally sweeps on its own timer.
func (s *Server) CleanupExpired(ctx context.Context) error {
	now := time.Now()

	codes, err := s.flowStore.DeleteExpiredAuthorizationCodes(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep authorization codes: %w", err)
	}
	tokens, err := s.tokenStore.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep tokens: %w", err)
	}

	if codes > 0 || tokens > 0 {
		s.Logger.Info("Swept expired records",
			"auth_codes", codes,
			"tokens", tokens)
	}
	return nil
}

// ListConnectedApps returns the distinct clients the user has authorized,
// derived from refresh tokens with the earliest creation time per client
func (s *Server) ListConnectedApps(ctx context.Context, userID string) ([]storage.ConnectedApp, error) {
	return s.tokenStore.ListConnectedApps(ctx, userID)
}
