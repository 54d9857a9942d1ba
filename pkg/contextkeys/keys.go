// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on one key per value.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p, _ := ctx.Value(contextkeys.PrincipalKey).(*rbac.Principal)
//
// Typed accessors for values owned by other packages live next to their
// types (rbac.PrincipalFromContext, audit.RequestInfoFromContext).
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *rbac.Principal
	// Set by: middleware.RouteGuard after session re-validation
	// Required by: account and store handlers, audit calls
	// Type: *rbac.Principal
	PrincipalKey Key = "principal"

	// RequestInfoKey contains audit.RequestInfo
	// Set by: audit.BindRequest
	// Used by: audit.Logger to stamp IP and user agent on every entry
	// Type: audit.RequestInfo
	RequestInfoKey Key = "request_info"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestLogging
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated principal's id
	// Set by: middleware.RouteGuard
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestLogging
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestInfo adds per-request client information to the context
func WithRequestInfo(ctx context.Context, info interface{}) context.Context {
	return context.WithValue(ctx, RequestInfoKey, info)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
