// Package reconcile repairs drift between the identity provider and the
// profiles table: identities that have no profile, usually left by a
// creation rollback that could not finish.
//
// A run lists every identity, probes for its profile with bounded
// concurrency and deletes the orphans through an async worker pool. Each
// delete re-probes first, so an identity whose profile appeared in the
// meantime is kept. Runs are idempotent; a second run over unchanged data
// finds nothing.
//
// Config.MinAge skips identities younger than the threshold. It defaults to
// zero, which checks everything; a creation that is still in flight can
// then race with a run, and only the re-probe guards it.
package reconcile
