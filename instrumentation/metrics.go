package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds pre-configured metric instruments for the auth core
type Metrics struct {
	codesIssued       metric.Int64Counter
	codeExchanges     metric.Int64Counter
	tokenRefreshes    metric.Int64Counter
	tokenValidations  metric.Int64Counter
	tokenRevocations  metric.Int64Counter
	sessionRejections metric.Int64Counter

	storageOperations metric.Int64Counter
	storageDuration   metric.Float64Histogram
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	meter := inst.Meter("core")

	m := &Metrics{}
	var err error

	if m.codesIssued, err = meter.Int64Counter("auth.codes.issued",
		metric.WithDescription("Authorization codes issued")); err != nil {
		return nil, fmt.Errorf("failed to create codes counter: %w", err)
	}
	if m.codeExchanges, err = meter.Int64Counter("auth.code.exchanges",
		metric.WithDescription("Authorization code exchange attempts by result")); err != nil {
		return nil, fmt.Errorf("failed to create exchanges counter: %w", err)
	}
	if m.tokenRefreshes, err = meter.Int64Counter("auth.token.refreshes",
		metric.WithDescription("Access token refresh attempts by result")); err != nil {
		return nil, fmt.Errorf("failed to create refreshes counter: %w", err)
	}
	if m.tokenValidations, err = meter.Int64Counter("auth.token.validations",
		metric.WithDescription("Bearer token validations by result")); err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}
	if m.tokenRevocations, err = meter.Int64Counter("auth.token.revocations",
		metric.WithDescription("Tokens deleted through revocation")); err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}
	if m.sessionRejections, err = meter.Int64Counter("auth.session.rejections",
		metric.WithDescription("Session cookie verifications rejected by kind")); err != nil {
		return nil, fmt.Errorf("failed to create session counter: %w", err)
	}
	if m.storageOperations, err = meter.Int64Counter("storage.operations",
		metric.WithDescription("Storage operations by operation and result")); err != nil {
		return nil, fmt.Errorf("failed to create storage counter: %w", err)
	}
	if m.storageDuration, err = meter.Float64Histogram("storage.operation.duration",
		metric.WithDescription("Storage operation duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create storage histogram: %w", err)
	}

	return m, nil
}

// RecordCodeIssued records an authorization code issuance
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.codesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID)))
}

// RecordCodeExchange records an authorization code exchange attempt
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string, success bool) {
	m.codeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success)))
}

// RecordTokenRefresh records an access token refresh attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, success bool) {
	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success)))
}

// RecordTokenValidation records a bearer token validation
func (m *Metrics) RecordTokenValidation(ctx context.Context, success bool, legacy bool) {
	m.tokenValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("legacy_prefix", legacy)))
}

// RecordTokenRevocation records tokens deleted through revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string, count int) {
	m.tokenRevocations.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("client_id", clientID)))
}

// RecordSessionRejection records a rejected session cookie by failure kind
func (m *Metrics) RecordSessionRejection(ctx context.Context, kind string) {
	m.sessionRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind)))
}

// RecordStorageOperation records a storage operation with its duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result))
	m.storageOperations.Add(ctx, 1, attrs)
	m.storageDuration.Record(ctx, durationMs, attrs)
}
