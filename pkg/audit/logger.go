package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
}

// Error is a failed audit write. Code and Hint come from the database when
// it reported them.
type Error struct {
	Code    string
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("audit write failed (%s): %s", e.Code, e.Message)
	}
	return "audit write failed: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapStoreError(err error) *Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &Error{Code: string(pqErr.Code), Message: pqErr.Message, Hint: pqErr.Hint, Err: err}
	}
	return &Error{Message: err.Error(), Err: err}
}

// Logger records audit entries.
type Logger struct {
	store   Store
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewLogger creates an audit logger. metrics may be nil.
func NewLogger(store Store, metrics *observability.Metrics, logger *observability.Logger) *Logger {
	return &Logger{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Log validates and persists e. CreatedAt, the request's IP and user agent
// and the acting principal's organization are filled in when unset.
func (l *Logger) Log(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return &Error{Message: err.Error(), Err: err}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.OrganizationID == "" {
		if p, ok := rbac.PrincipalFromContext(ctx); ok {
			e.OrganizationID = p.OrganizationID
		}
	}
	if info, ok := RequestInfoFromContext(ctx); ok {
		if e.IPAddress == "" {
			e.IPAddress = info.IPAddress
		}
		if e.UserAgent == "" {
			e.UserAgent = info.UserAgent
		}
	}

	if err := l.store.Insert(ctx, e); err != nil {
		return wrapStoreError(err)
	}
	l.metrics.RecordAuditWrite(string(e.Action), string(e.Resource))
	return nil
}

// LogSafe is Log for request paths: failures and panics are reported
// locally and never reach the caller.
func (l *Logger) LogSafe(ctx context.Context, e *Entry) {
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.reportFailure(ctx, e, &Error{Message: fmt.Sprintf("panic: %v", r)})
		}
	}()

	if err := l.Log(ctx, e); err != nil {
		var auditErr *Error
		if !errors.As(err, &auditErr) {
			auditErr = &Error{Message: err.Error(), Err: err}
		}
		l.reportFailure(ctx, e, auditErr)
	}
}

func (l *Logger) reportFailure(ctx context.Context, e *Entry, err *Error) {
	l.metrics.RecordAuditFailure()

	logger := l.logger
	if logger == nil {
		logger = observability.FromContext(ctx)
	}
	fields := map[string]interface{}{
		"error_code":    err.Code,
		"error_message": err.Message,
		"error_hint":    err.Hint,
		"timestamp":     l.now().UTC().Format(time.RFC3339Nano),
	}
	if e != nil {
		fields["audit_user_id"] = e.UserID
		fields["audit_action"] = string(e.Action)
		fields["audit_resource"] = string(e.Resource)
		fields["audit_resource_id"] = e.ResourceID
		fields["audit_success"] = e.Success
	}
	logger.WithFields(fields).Error("failed to write audit log")
}

// LogCreate records a successful create.
func (l *Logger) LogCreate(ctx context.Context, userID string, resource Resource, resourceID string, details map[string]interface{}) {
	l.LogAction(ctx, userID, ActionCreate, resource, resourceID, details)
}

// LogUpdate records a successful update.
func (l *Logger) LogUpdate(ctx context.Context, userID string, resource Resource, resourceID string, details map[string]interface{}) {
	l.LogAction(ctx, userID, ActionUpdate, resource, resourceID, details)
}

// LogDelete records a successful delete.
func (l *Logger) LogDelete(ctx context.Context, userID string, resource Resource, resourceID string, details map[string]interface{}) {
	l.LogAction(ctx, userID, ActionDelete, resource, resourceID, details)
}

// LogAction records a successful action of any kind.
func (l *Logger) LogAction(ctx context.Context, userID string, action Action, resource Resource, resourceID string, details map[string]interface{}) {
	l.LogSafe(ctx, &Entry{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		Success:    true,
	})
}

// LogFailure records a failed action.
func (l *Logger) LogFailure(ctx context.Context, userID string, action Action, resource Resource, resourceID string, cause error, details map[string]interface{}) {
	e := &Entry{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		Success:    false,
	}
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
	l.LogSafe(ctx, e)
}
