package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeVersions is an in-memory VersionStore test double
type fakeVersions struct {
	versions map[string]int64
	err      error
}

func (f *fakeVersions) SessionVersion(_ context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	v, ok := f.versions[userID]
	if !ok {
		return 0, errors.New("user not found")
	}
	return v, nil
}

func newTestSigner(t *testing.T) (*Signer, *fakeVersions) {
	t.Helper()
	versions := &fakeVersions{versions: map[string]int64{"user-123": 1}}
	signer, err := NewSigner("test-secret", versions)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return signer, versions
}

func validPayload() Payload {
	return Payload{
		UserID:         "user-123",
		ExpiresAt:      time.Now().Add(30 * 24 * time.Hour).UnixMilli(),
		SessionVersion: 1,
	}
}

func TestNewSigner_RequiresSecret(t *testing.T) {
	if _, err := NewSigner("", &fakeVersions{}); err == nil {
		t.Error("NewSigner() with empty secret, want error")
	}
	if _, err := NewSigner("secret", nil); err == nil {
		t.Error("NewSigner() with nil version store, want error")
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	ctx := context.Background()
	signer, _ := newTestSigner(t)

	payload := validPayload()
	cookie, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !strings.Contains(cookie, ".") {
		t.Fatalf("Sign() = %q, want payload.signature format", cookie)
	}

	got, err := signer.Verify(ctx, cookie)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != payload {
		t.Errorf("Verify() = %+v, want %+v", got, payload)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	ctx := context.Background()
	signer, _ := newTestSigner(t)

	cookie, err := signer.Sign(validPayload())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name   string
		cookie string
	}{
		{"flipped payload byte", "A" + cookie[1:]},
		{"truncated signature", cookie[:len(cookie)-2]},
		{"missing separator", strings.ReplaceAll(cookie, ".", "")},
		{"empty value", ""},
		{"garbage", "not-a-cookie"},
		{"invalid base64", "!!!.!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := signer.Verify(ctx, tt.cookie); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	ctx := context.Background()
	versions := &fakeVersions{versions: map[string]int64{"user-123": 1}}

	signer1, err := NewSigner("secret-one", versions)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	signer2, err := NewSigner("secret-two", versions)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	cookie, err := signer1.Sign(validPayload())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := signer2.Verify(ctx, cookie); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	ctx := context.Background()
	signer, _ := newTestSigner(t)

	payload := validPayload()
	payload.ExpiresAt = time.Now().Add(-time.Millisecond).UnixMilli()

	cookie, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := signer.Verify(ctx, cookie); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	signer, _ := newTestSigner(t)

	fixed := time.Now()
	signer.now = func() time.Time { return fixed }

	payload := validPayload()

	// one millisecond before expiry: valid
	payload.ExpiresAt = fixed.Add(time.Millisecond).UnixMilli()
	cookie, _ := signer.Sign(payload)
	if _, err := signer.Verify(ctx, cookie); err != nil {
		t.Errorf("Verify() just before expiry: error = %v", err)
	}

	// exactly at expiry: expired
	payload.ExpiresAt = fixed.UnixMilli()
	cookie, _ = signer.Sign(payload)
	if _, err := signer.Verify(ctx, cookie); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() at expiry: error = %v, want ErrExpired", err)
	}
}

func TestVerify_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	signer, versions := newTestSigner(t)

	cookie, err := signer.Sign(validPayload())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	// Valid before the bump
	if _, err := signer.Verify(ctx, cookie); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	// Bump the session version: same signature, now rejected
	versions.versions["user-123"] = 2
	if _, err := signer.Verify(ctx, cookie); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Verify() after version bump: error = %v, want ErrVersionMismatch", err)
	}
}

func TestVerify_StoreErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	signer, versions := newTestSigner(t)

	cookie, err := signer.Sign(validPayload())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	versions.err = errors.New("database unavailable")
	if _, err := signer.Verify(ctx, cookie); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Verify() with store error: error = %v, want ErrVersionMismatch", err)
	}
}

func TestVerify_RotatedSecret(t *testing.T) {
	ctx := context.Background()
	versions := &fakeVersions{versions: map[string]int64{"user-123": 1}}

	oldSigner, err := NewSigner("old-secret", versions)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	cookie, err := oldSigner.Sign(validPayload())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	newSigner, err := NewSigner("new-secret", versions)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	// Rejected until the old secret is registered for verification
	if _, err := newSigner.Verify(ctx, cookie); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify() error = %v, want ErrInvalidSignature", err)
	}
	newSigner.AddVerifySecret("old-secret")
	if _, err := newSigner.Verify(ctx, cookie); err != nil {
		t.Errorf("Verify() with rotated secret: error = %v", err)
	}

	// New issuance uses the primary secret only
	fresh, err := newSigner.Sign(validPayload())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := oldSigner.Verify(ctx, fresh); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("old signer verified a cookie issued with the new secret")
	}
}

func TestSign_RequiresUserID(t *testing.T) {
	signer, _ := newTestSigner(t)
	if _, err := signer.Sign(Payload{ExpiresAt: time.Now().UnixMilli()}); err == nil {
		t.Error("Sign() with empty user ID, want error")
	}
}
