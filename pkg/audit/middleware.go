package audit

import (
	"context"
	"net/http"

	"github.com/platinummonkey/retailops/pkg/contextkeys"
	"github.com/platinummonkey/retailops/pkg/httputil"
)

// RequestInfo is the client context stamped on every entry written while
// serving a request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// WithRequestInfo stores info in ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return contextkeys.WithRequestInfo(ctx, info)
}

// RequestInfoFromContext returns the info bound by BindRequest.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(contextkeys.RequestInfoKey).(RequestInfo)
	return info, ok
}

// BindRequest captures the client IP and user agent once per request.
func BindRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := RequestInfo{
			IPAddress: httputil.ClientIP(r),
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(WithRequestInfo(r.Context(), info)))
	})
}
