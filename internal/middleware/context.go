// Package middleware provides the gin middlewares wrapping every
// registry request: request-id/trace propagation, structured logging,
// panic recovery, Prometheus metrics, and rate limiting.
package middleware

// ContextKeyTraceID is the gin context key under which the per-request
// trace id is stored.
const ContextKeyTraceID = "trace_id"
