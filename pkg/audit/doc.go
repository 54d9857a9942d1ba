// Package audit records who did what to which resource.
//
// # Overview
//
// Every successful mutation writes one immutable Entry. Failed mutations
// write an Entry with Success=false and the error message.
//
// # Writing
//
// Request handlers use the fire-and-forget helpers, which never fail the
// request:
//
//	auditLogger.LogCreate(ctx, actor.ID, audit.ResourceStore, store.ID, details)
//	auditLogger.LogFailure(ctx, actor.ID, audit.ActionUpdate, audit.ResourceUser, id, err, nil)
//
// A failed write is logged at Error level with the database code and hint
// and counted in retailops_audit_write_failures_total.
//
// Jobs that must not proceed without an audit trail call Log directly and
// handle the *audit.Error it returns.
//
// # Request Context
//
// BindRequest captures the client IP (X-Forwarded-For first hop, then
// X-Real-IP, then RemoteAddr) and the User-Agent once per request. Log
// stamps them onto entries that do not set their own.
//
// # Export
//
// Handlers serve search and on-demand CSV, JSON or NDJSON export. Exporter
// copies a time window to object storage as NDJSON on a schedule.
package audit
