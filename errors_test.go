package authcore

import (
	"net/http"
	"testing"
)

func TestOAuthError_Error(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest)
	want := "invalid_grant: invalid grant"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{"invalid request", ErrInvalidRequest("bad"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid grant", ErrInvalidGrant("bad"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid client", ErrInvalidClient("bad"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid token", ErrInvalidToken("bad"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unsupported response type", ErrUnsupportedResponseType("bad"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"server error", ErrServerError("bad"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "bad" {
				t.Errorf("Description = %q, want %q", tt.err.Description, "bad")
			}
		})
	}
}
