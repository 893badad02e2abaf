// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments, and doubles as the test backend for the flow tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lakefield/authcore/instrumentation"
	"github.com/lakefield/authcore/storage"
)

// user is the in-memory stand-in for the external user/account store
type user struct {
	sessionVersion int64
	capabilities   []string
}

// Store is an in-memory implementation of all storage interfaces.
// It implements FlowStore, TokenStore, ClientStore, and UserStore.
type Store struct {
	mu sync.RWMutex

	// Flow storage: authorization codes by code hash
	authCodes map[string]*storage.AuthorizationCode

	// Token storage: records by token hash, with ID indexes for the
	// touch/rebind paths that address records by row ID
	accessTokens    map[string]*storage.AccessToken
	accessHashByID  map[uuid.UUID]string
	refreshTokens   map[string]*storage.RefreshToken
	refreshHashByID map[uuid.UUID]string

	// Client storage
	clients map[string]*storage.Client

	// User storage (external collaborator stand-in)
	users map[string]*user

	// Instrumentation
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute
// is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		authCodes:       make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		accessHashByID:  make(map[uuid.UUID]string),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		refreshHashByID: make(map[uuid.UUID]string),
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*user),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// FlowStore implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code record
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startSpan(ctx, "save_authorization_code")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_authorization_code", err, start) }()

	if code == nil || code.CodeHash == "" {
		err = fmt.Errorf("authorization code record requires a code hash")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.CodeHash]; exists {
		err = storage.ErrDuplicate
		return err
	}

	cp := *code
	s.authCodes[code.CodeHash] = &cp
	return nil
}

// ConsumeAuthorizationCode atomically removes and returns the record for
// codeHash. The mutex makes delete-and-return a single step: of N concurrent
// consumers exactly one observes the record.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "consume_authorization_code")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "consume_authorization_code", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, exists := s.authCodes[codeHash]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	delete(s.authCodes, codeHash)

	cp := *code
	return &cp, nil
}

// DeleteExpiredAuthorizationCodes removes codes whose expiry has passed
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for hash, code := range s.authCodes {
		if code.ExpiresAt.Before(now) {
			delete(s.authCodes, hash)
			deleted++
		}
	}
	return deleted, nil
}

// ============================================================
// TokenStore implementation
// ============================================================

// SaveAccessToken saves a new access token record
func (s *Store) SaveAccessToken(ctx context.Context, tok *storage.AccessToken) error {
	ctx, span := s.startSpan(ctx, "save_access_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_access_token", err, start) }()

	if tok == nil || tok.TokenHash == "" {
		err = fmt.Errorf("access token record requires a token hash")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[tok.TokenHash]; exists {
		err = storage.ErrDuplicate
		return err
	}

	cp := *tok
	s.accessTokens[tok.TokenHash] = &cp
	s.accessHashByID[tok.ID] = tok.TokenHash
	return nil
}

// GetAccessToken retrieves an access token record by token hash
func (s *Store) GetAccessToken(ctx context.Context, tokenHash string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "get_access_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_access_token", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, exists := s.accessTokens[tokenHash]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	cp := *tok
	return &cp, nil
}

// TouchAccessToken updates LastUsedAt for a token. Missing tokens are not an
// error: the record may have been swept between validation and touch.
func (s *Store) TouchAccessToken(ctx context.Context, id uuid.UUID, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, exists := s.accessHashByID[id]
	if !exists {
		return nil
	}
	if tok, ok := s.accessTokens[hash]; ok {
		w := when
		tok.LastUsedAt = &w
	}
	return nil
}

// SaveRefreshToken saves a new refresh token record
func (s *Store) SaveRefreshToken(ctx context.Context, tok *storage.RefreshToken) error {
	ctx, span := s.startSpan(ctx, "save_refresh_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "save_refresh_token", err, start) }()

	if tok == nil || tok.TokenHash == "" {
		err = fmt.Errorf("refresh token record requires a token hash")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[tok.TokenHash]; exists {
		err = storage.ErrDuplicate
		return err
	}

	cp := *tok
	s.refreshTokens[tok.TokenHash] = &cp
	s.refreshHashByID[tok.ID] = tok.TokenHash
	return nil
}

// GetRefreshToken retrieves a refresh token record by token hash
func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*storage.RefreshToken, error) {
	ctx, span := s.startSpan(ctx, "get_refresh_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "get_refresh_token", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, exists := s.refreshTokens[tokenHash]
	if !exists {
		err = storage.ErrNotFound
		return nil, err
	}
	cp := *tok
	return &cp, nil
}

// RebindRefreshToken points a refresh token at a newly minted access token
func (s *Store) RebindRefreshToken(ctx context.Context, id uuid.UUID, accessTokenID uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "rebind_refresh_token")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "rebind_refresh_token", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	hash, exists := s.refreshHashByID[id]
	if !exists {
		err = storage.ErrNotFound
		return err
	}
	s.refreshTokens[hash].AccessTokenID = accessTokenID
	return nil
}

// DeleteRefreshToken removes a refresh token record by token hash
func (s *Store) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, exists := s.refreshTokens[tokenHash]
	if !exists {
		return storage.ErrNotFound
	}
	delete(s.refreshHashByID, tok.ID)
	delete(s.refreshTokens, tokenHash)
	return nil
}

// RevokeClientTokens deletes all refresh tokens then all access tokens for a
// (userID, clientID) pair
func (s *Store) RevokeClientTokens(ctx context.Context, userID, clientID string) (int, error) {
	ctx, span := s.startSpan(ctx, "revoke_client_tokens")
	defer span.End()
	start := time.Now()
	var err error
	defer func() { s.record(ctx, span, "revoke_client_tokens", err, start) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for hash, tok := range s.refreshTokens {
		if tok.UserID == userID && tok.ClientID == clientID {
			delete(s.refreshHashByID, tok.ID)
			delete(s.refreshTokens, hash)
			deleted++
		}
	}
	for hash, tok := range s.accessTokens {
		if tok.UserID == userID && tok.ClientID == clientID {
			delete(s.accessHashByID, tok.ID)
			delete(s.accessTokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteExpiredTokens removes access and refresh tokens whose expiry has passed
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for hash, tok := range s.refreshTokens {
		if tok.ExpiresAt.Before(now) {
			delete(s.refreshHashByID, tok.ID)
			delete(s.refreshTokens, hash)
			deleted++
		}
	}
	for hash, tok := range s.accessTokens {
		if tok.ExpiresAt.Before(now) {
			delete(s.accessHashByID, tok.ID)
			delete(s.accessTokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

// ListConnectedApps returns the distinct clients for which the user holds
// refresh tokens, each with the earliest token creation time, ordered by
// connection time.
func (s *Store) ListConnectedApps(ctx context.Context, userID string) ([]storage.ConnectedApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	earliest := make(map[string]time.Time)
	for _, tok := range s.refreshTokens {
		if tok.UserID != userID {
			continue
		}
		if t, ok := earliest[tok.ClientID]; !ok || tok.CreatedAt.Before(t) {
			earliest[tok.ClientID] = tok.CreatedAt
		}
	}

	apps := make([]storage.ConnectedApp, 0, len(earliest))
	for clientID, connectedAt := range earliest {
		apps = append(apps, storage.ConnectedApp{ClientID: clientID, ConnectedAt: connectedAt})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ConnectedAt.Before(apps[j].ConnectedAt) })
	return apps, nil
}

// ============================================================
// ClientStore implementation
// ============================================================

// SaveClient seeds a client record. Used at startup and by tests; there is
// no dynamic registration surface.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client record requires a client ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *client
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.clients[client.ClientID] = &cp
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[clientID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *client
	return &cp, nil
}

// ValidateClientSecret validates a client's secret against its bcrypt hash
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()

	if !exists || client.SecretHash == "" {
		// Burn comparable time so missing clients are not distinguishable
		// from wrong secrets by response timing
		_ = storage.CheckClientSecret("$2a$10$0000000000000000000000uGZqC5zQg1PQQnbb0f0vOMzVTxXhxBG", clientSecret)
		return fmt.Errorf("invalid client credentials")
	}
	return storage.CheckClientSecret(client.SecretHash, clientSecret)
}

// ============================================================
// UserStore implementation (external collaborator stand-in)
// ============================================================

// SeedUser creates or replaces a user record with the given session version
// and capability tags
func (s *Store) SeedUser(userID string, sessionVersion int64, capabilities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = &user{sessionVersion: sessionVersion, capabilities: capabilities}
}

// BumpSessionVersion increments a user's session version, invalidating all
// outstanding session cookies for that user
func (s *Store) BumpSessionVersion(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.sessionVersion++
	}
}

// SessionVersion returns the user's current session version
func (s *Store) SessionVersion(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[userID]
	if !exists {
		return 0, storage.ErrNotFound
	}
	return u.sessionVersion, nil
}

// Capabilities returns the user's capability tags
func (s *Store) Capabilities(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	caps := make([]string, len(u.capabilities))
	copy(caps, u.capabilities)
	return caps, nil
}

// ============================================================
// Cleanup
// ============================================================

// cleanupLoop periodically sweeps expired authorization codes and tokens
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup() {
	now := time.Now()
	ctx := context.Background()

	codes, _ := s.DeleteExpiredAuthorizationCodes(ctx, now)
	tokens, _ := s.DeleteExpiredTokens(ctx, now)

	if codes > 0 || tokens > 0 {
		s.logger.Debug("Cleaned up expired records",
			"auth_codes", codes,
			"tokens", tokens)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(attribute.String("operation", operation)))
}

func (s *Store) record(ctx context.Context, span trace.Span, operation string, err error, start time.Time) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if s.inst == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Milliseconds()))
}
