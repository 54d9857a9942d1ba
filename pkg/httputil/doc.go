// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, the
// mapping of application errors onto HTTP responses, parameter parsing and
// the middleware shared by every route.
//
// # Error Responses
//
// Handlers return errors from the apperr taxonomy and hand them to
// WriteAppError, which picks the status code and sanitizes internal faults:
//
//	if err := svc.Update(ctx, id, req); err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//
// Compensation failures keep their orphan identifiers and support text in
// the body so operators can clean up by hand.
//
// # Request Parsing
//
//	var req accounts.CreateRequest
//	if err := httputil.ParseJSON(r, &req); err != nil {
//		httputil.WriteAppError(w, r, apperr.Validation(err.Error(), nil))
//		return
//	}
//
// ParseJSON rejects unknown fields and bodies over 1 MiB.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestLogging(logger),
//		httputil.Recover,
//	)(router)
//
// RouteMetrics is installed with router.Use so that metrics are labelled by
// route template rather than raw path.
package httputil
