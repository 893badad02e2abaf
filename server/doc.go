// Package server implements the OAuth2 flow orchestrator: authorization code
// issuance, code-for-token exchange with PKCE, access token refresh, bearer
// token validation, revocation, and expiry sweeping. It composes the token,
// pkce, and session packages over the storage interfaces and holds no state
// of its own beyond configuration.
package server
