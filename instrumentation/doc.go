// Package instrumentation wraps OpenTelemetry for the auth core.
//
// The package exposes named meters and tracers plus pre-built instruments
// for the flow operations (code issuance, exchange, refresh, validation,
// revocation) and for storage backends. Providers are no-op until the
// embedding application wires real exporters, so instrumented code paths
// carry no overhead in the default configuration.
package instrumentation
