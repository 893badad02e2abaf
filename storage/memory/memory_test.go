package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lakefield/authcore/internal/testutil"
	"github.com/lakefield/authcore/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func testAuthCode(hash string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		CodeHash:            hash,
		UserID:              "user-123",
		ClientID:            "client-1",
		RedirectURI:         "https://example.com/callback",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		Scope:               "api",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}

func testAccessToken(hash string) *storage.AccessToken {
	now := time.Now()
	return &storage.AccessToken{
		ID:        uuid.New(),
		TokenHash: hash,
		UserID:    "user-123",
		ClientID:  "client-1",
		Scope:     "api",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func testRefreshToken(hash string, accessID uuid.UUID) *storage.RefreshToken {
	now := time.Now()
	return &storage.RefreshToken{
		ID:            uuid.New(),
		TokenHash:     hash,
		UserID:        "user-123",
		ClientID:      "client-1",
		AccessTokenID: accessID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveAuthorizationCode(ctx, testAuthCode("hash-1")); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	code, err := s.ConsumeAuthorizationCode(ctx, "hash-1")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if code.UserID != "user-123" {
		t.Errorf("UserID = %q, want %q", code.UserID, "user-123")
	}

	// Second consume must miss: one-time use
	if _, err := s.ConsumeAuthorizationCode(ctx, "hash-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second ConsumeAuthorizationCode() error = %v, want ErrNotFound", err)
	}
}

func TestConsumeAuthorizationCode_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveAuthorizationCode(ctx, testAuthCode("hash-race")); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	successes := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeAuthorizationCode(ctx, "hash-race"); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	if got := len(successes); got != 1 {
		t.Errorf("%d of %d concurrent consumers succeeded, want exactly 1", got, n)
	}
}

func TestSaveAuthorizationCode_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.SaveAuthorizationCode(ctx, testAuthCode("hash-dup")); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, testAuthCode("hash-dup")); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("duplicate SaveAuthorizationCode() error = %v, want ErrDuplicate", err)
	}
}

func TestDeleteExpiredAuthorizationCodes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	expired := testAuthCode("hash-expired")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	live := testAuthCode("hash-live")

	_ = s.SaveAuthorizationCode(ctx, expired)
	_ = s.SaveAuthorizationCode(ctx, live)

	deleted, err := s.DeleteExpiredAuthorizationCodes(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredAuthorizationCodes() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := s.ConsumeAuthorizationCode(ctx, "hash-live"); err != nil {
		t.Errorf("live code was swept: %v", err)
	}
}

func TestAccessTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok := testAccessToken("at-hash-1")
	if err := s.SaveAccessToken(ctx, tok); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	got, err := s.GetAccessToken(ctx, "at-hash-1")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got.ID != tok.ID || got.LastUsedAt != nil {
		t.Errorf("GetAccessToken() = %+v, want fresh record with nil LastUsedAt", got)
	}

	when := time.Now()
	if err := s.TouchAccessToken(ctx, tok.ID, when); err != nil {
		t.Fatalf("TouchAccessToken() error = %v", err)
	}
	got, _ = s.GetAccessToken(ctx, "at-hash-1")
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(when) {
		t.Errorf("LastUsedAt = %v, want %v", got.LastUsedAt, when)
	}

	// Touching an unknown ID is not an error (record may have been swept)
	if err := s.TouchAccessToken(ctx, uuid.New(), when); err != nil {
		t.Errorf("TouchAccessToken() for unknown ID: error = %v", err)
	}
}

func TestRefreshTokenRebind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a1 := testAccessToken("at-hash-1")
	_ = s.SaveAccessToken(ctx, a1)

	rt := testRefreshToken("rt-hash-1", a1.ID)
	if err := s.SaveRefreshToken(ctx, rt); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	a2 := testAccessToken("at-hash-2")
	_ = s.SaveAccessToken(ctx, a2)

	if err := s.RebindRefreshToken(ctx, rt.ID, a2.ID); err != nil {
		t.Fatalf("RebindRefreshToken() error = %v", err)
	}
	got, err := s.GetRefreshToken(ctx, "rt-hash-1")
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if got.AccessTokenID != a2.ID {
		t.Errorf("AccessTokenID = %v, want %v", got.AccessTokenID, a2.ID)
	}

	if err := s.RebindRefreshToken(ctx, uuid.New(), a2.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RebindRefreshToken() for unknown ID: error = %v, want ErrNotFound", err)
	}
}

func TestRevokeClientTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a1 := testAccessToken("at-1")
	_ = s.SaveAccessToken(ctx, a1)
	_ = s.SaveRefreshToken(ctx, testRefreshToken("rt-1", a1.ID))

	// Token for a different client must survive
	other := testAccessToken("at-other")
	other.ClientID = "client-2"
	_ = s.SaveAccessToken(ctx, other)

	deleted, err := s.RevokeClientTokens(ctx, "user-123", "client-1")
	if err != nil {
		t.Fatalf("RevokeClientTokens() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	if _, err := s.GetAccessToken(ctx, "at-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("revoked access token still present")
	}
	if _, err := s.GetRefreshToken(ctx, "rt-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("revoked refresh token still present")
	}
	if _, err := s.GetAccessToken(ctx, "at-other"); err != nil {
		t.Errorf("other client's token was revoked: %v", err)
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	expired := testAccessToken("at-expired")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	_ = s.SaveAccessToken(ctx, expired)

	live := testAccessToken("at-live")
	_ = s.SaveAccessToken(ctx, live)

	expiredRT := testRefreshToken("rt-expired", expired.ID)
	expiredRT.ExpiresAt = time.Now().Add(-time.Minute)
	_ = s.SaveRefreshToken(ctx, expiredRT)

	deleted, err := s.DeleteExpiredTokens(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredTokens() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if _, err := s.GetAccessToken(ctx, "at-live"); err != nil {
		t.Errorf("live token was swept: %v", err)
	}
}

func TestListConnectedApps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()

	older := testRefreshToken("rt-a-old", uuid.New())
	older.ClientID = "client-a"
	older.CreatedAt = now.Add(-2 * time.Hour)
	_ = s.SaveRefreshToken(ctx, older)

	newer := testRefreshToken("rt-a-new", uuid.New())
	newer.ClientID = "client-a"
	newer.CreatedAt = now
	_ = s.SaveRefreshToken(ctx, newer)

	b := testRefreshToken("rt-b", uuid.New())
	b.ClientID = "client-b"
	b.CreatedAt = now.Add(-time.Hour)
	_ = s.SaveRefreshToken(ctx, b)

	foreign := testRefreshToken("rt-foreign", uuid.New())
	foreign.UserID = "someone-else"
	_ = s.SaveRefreshToken(ctx, foreign)

	apps, err := s.ListConnectedApps(ctx, "user-123")
	if err != nil {
		t.Fatalf("ListConnectedApps() error = %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("len(apps) = %d, want 2", len(apps))
	}
	// Ordered by earliest connection; client-a connected first
	if apps[0].ClientID != "client-a" || !apps[0].ConnectedAt.Equal(older.CreatedAt) {
		t.Errorf("apps[0] = %+v, want client-a at %v", apps[0], older.CreatedAt)
	}
	if apps[1].ClientID != "client-b" {
		t.Errorf("apps[1].ClientID = %q, want client-b", apps[1].ClientID)
	}
}

func TestClientSecretValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	secret := testutil.GenerateRandomString(t, 16)
	hash, err := storage.HashClientSecret(secret)
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	_ = s.SaveClient(ctx, &storage.Client{
		ClientID:     "client-1",
		SecretHash:   hash,
		Name:         "Test Client",
		RedirectURIs: []string{"https://example.com/callback"},
	})

	if err := s.ValidateClientSecret(ctx, "client-1", secret); err != nil {
		t.Errorf("ValidateClientSecret() with correct secret: error = %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "client-1", "wrong"); err == nil {
		t.Error("ValidateClientSecret() with wrong secret: want error")
	}
	if err := s.ValidateClientSecret(ctx, "no-such-client", secret); err == nil {
		t.Error("ValidateClientSecret() for unknown client: want error")
	}
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.SeedUser("user-123", 1, "admin", "publish")

	v, err := s.SessionVersion(ctx, "user-123")
	if err != nil || v != 1 {
		t.Errorf("SessionVersion() = %d, %v, want 1, nil", v, err)
	}

	s.BumpSessionVersion("user-123")
	v, _ = s.SessionVersion(ctx, "user-123")
	if v != 2 {
		t.Errorf("SessionVersion() after bump = %d, want 2", v)
	}

	caps, err := s.Capabilities(ctx, "user-123")
	if err != nil || len(caps) != 2 {
		t.Errorf("Capabilities() = %v, %v, want 2 tags", caps, err)
	}

	if _, err := s.SessionVersion(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SessionVersion() for unknown user: error = %v, want ErrNotFound", err)
	}
}

func TestCleanupLoop(t *testing.T) {
	ctx := context.Background()
	s := NewWithInterval(10 * time.Millisecond)
	t.Cleanup(s.Stop)

	code := testAuthCode("hash-sweep")
	code.ExpiresAt = time.Now().Add(-time.Minute)
	_ = s.SaveAuthorizationCode(ctx, code)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.ConsumeAuthorizationCode(ctx, "hash-sweep"); errors.Is(err, storage.ErrNotFound) {
			return
		}
		// put it back if the sweep has not run yet
		_ = s.SaveAuthorizationCode(ctx, code)
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expired code was never swept by the cleanup loop")
}
