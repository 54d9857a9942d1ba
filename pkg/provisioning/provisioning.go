package provisioning

import (
	"context"

	"github.com/platinummonkey/retailops/pkg/apperr"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/saga"
)

// Options are shared by the provisioners. The zero value uses the default
// retry policy, no metrics and the request logger.
type Options struct {
	Retry   saga.RetryPolicy
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

func (o Options) retry() saga.RetryPolicy {
	if o.Retry.Attempts <= 0 {
		return saga.DefaultRetryPolicy()
	}
	return o.Retry
}

func (o Options) logger(ctx context.Context) *observability.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return observability.FromContext(ctx)
}

// outcome converts a finished run into the error returned to the handler.
// A Conflict that caused a clean rollback keeps its kind. Orphans are
// logged at CRITICAL, one line each.
func (o Options) outcome(ctx context.Context, res *saga.Result, resource, what string) error {
	switch res.Outcome {
	case saga.OutcomeCompleted:
		return nil
	case saga.OutcomeRolledBack:
		if apperr.IsKind(res.Cause, apperr.KindConflict) || apperr.IsKind(res.Cause, apperr.KindValidation) {
			return res.Cause
		}
		return apperr.RolledBack(what+" creation failed and was rolled back", res.Err())
	}

	logger := o.logger(ctx)
	for _, orphan := range res.Orphans {
		logger.WithFields(map[string]interface{}{
			"saga":               res.Saga,
			"failed_step":        res.FailedStep,
			"orphan_id":          orphan.ID,
			"orphan_resource":    orphan.Resource,
			"orphan_step":        orphan.Step,
			"error":              errString(res.Cause),
			"compensation_error": errString(orphan.Err),
		}).Critical("rollback failed, resource orphaned")
	}
	return apperr.CompensationFailure(
		what+" creation failed and could not be rolled back",
		resource,
		uniqueIDs(res.OrphanIDs()),
		res.Err(),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
