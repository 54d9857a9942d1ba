package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/retailops/pkg/observability"
)

// Outcome is the terminal state of a saga run.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeRolledBack         Outcome = "rolled_back"
	OutcomeCompensationFailed Outcome = "compensation_failed"
)

// StepState tracks a single step through a run.
type StepState string

const (
	StatePending     StepState = "pending"
	StateDone        StepState = "done"
	StateCompensated StepState = "compensated"
	StateOrphaned    StepState = "orphaned"
)

// Step is one unit of forward work and the action that undoes it.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	// Compensate is optional. Steps without one are treated as having
	// nothing to undo.
	Compensate func(ctx context.Context) error
	// Resource names what the step creates, e.g. "identity".
	Resource string
	// ResourceID is read after Do succeeds and identifies what would be
	// orphaned if Compensate keeps failing.
	ResourceID func() string
}

// Orphan is a resource left behind by a failed compensation.
type Orphan struct {
	Step     string `json:"step"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
	Err      error  `json:"-"`
}

// Result describes a finished run.
type Result struct {
	Saga       string
	Outcome    Outcome
	FailedStep string
	Cause      error
	Orphans    []Orphan
	States     map[string]StepState
}

// Err returns nil for a completed run, *RollbackError for a clean rollback
// and *CompensationError when something was orphaned.
func (r *Result) Err() error {
	switch r.Outcome {
	case OutcomeCompleted:
		return nil
	case OutcomeRolledBack:
		return &RollbackError{Saga: r.Saga, Step: r.FailedStep, Cause: r.Cause}
	default:
		return &CompensationError{Saga: r.Saga, Step: r.FailedStep, Cause: r.Cause, Orphans: r.Orphans}
	}
}

// OrphanIDs lists the ids of every orphan.
func (r *Result) OrphanIDs() []string {
	ids := make([]string, 0, len(r.Orphans))
	for _, o := range r.Orphans {
		ids = append(ids, o.ID)
	}
	return ids
}

// RollbackError reports a failed step whose earlier work was undone.
type RollbackError struct {
	Saga  string
	Step  string
	Cause error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("saga %s: step %s failed and was rolled back: %v", e.Saga, e.Step, e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// CompensationError reports a failed step whose rollback left orphans.
type CompensationError struct {
	Saga    string
	Step    string
	Cause   error
	Orphans []Orphan
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga %s: step %s failed and rollback left %d orphan(s): %v", e.Saga, e.Step, len(e.Orphans), e.Cause)
}

func (e *CompensationError) Unwrap() error {
	return e.Cause
}

// RetryPolicy controls compensation retries. Attempts counts every call,
// the first included, so Attempts-1 waits happen at most.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
}

// DefaultRetryPolicy is one attempt plus three retries, waiting 100ms,
// 200ms and then 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, InitialInterval: 100 * time.Millisecond}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.InitialInterval * 8
	b.MaxElapsedTime = 0
	b.Reset()
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Saga runs steps in order and compensates completed steps in reverse when
// one fails.
type Saga struct {
	name    string
	steps   []Step
	retry   RetryPolicy
	metrics *observability.Metrics
}

// New creates a saga with the default retry policy.
func New(name string, steps ...Step) *Saga {
	return &Saga{name: name, steps: steps, retry: DefaultRetryPolicy()}
}

// WithRetryPolicy overrides the compensation retry schedule.
func (s *Saga) WithRetryPolicy(p RetryPolicy) *Saga {
	s.retry = p
	return s
}

// WithMetrics records outcomes and compensation attempts.
func (s *Saga) WithMetrics(m *observability.Metrics) *Saga {
	s.metrics = m
	return s
}

// Name returns the saga name.
func (s *Saga) Name() string {
	return s.name
}

// Run executes the saga. It never returns nil.
func (s *Saga) Run(ctx context.Context) *Result {
	ctx, span := observability.Tracer().Start(ctx, "saga."+s.name,
		trace.WithAttributes(attribute.String("saga.name", s.name)))
	defer span.End()

	res := &Result{Saga: s.name, States: make(map[string]StepState, len(s.steps))}
	for _, st := range s.steps {
		res.States[st.Name] = StatePending
	}

	done := make([]Step, 0, len(s.steps))
	for _, st := range s.steps {
		if err := s.runStep(ctx, st); err != nil {
			res.FailedStep = st.Name
			res.Cause = err
			s.rollback(ctx, done, res)
			break
		}
		res.States[st.Name] = StateDone
		done = append(done, st)
	}

	switch {
	case res.Cause == nil:
		res.Outcome = OutcomeCompleted
	case len(res.Orphans) > 0:
		res.Outcome = OutcomeCompensationFailed
		span.SetStatus(codes.Error, "compensation failed")
	default:
		res.Outcome = OutcomeRolledBack
		span.SetStatus(codes.Error, "rolled back")
	}
	span.SetAttributes(attribute.String("saga.outcome", string(res.Outcome)))

	s.metrics.RecordSagaOutcome(s.name, string(res.Outcome))
	for _, o := range res.Orphans {
		s.metrics.RecordSagaOrphan(s.name, o.Resource)
	}
	return res
}

func (s *Saga) runStep(ctx context.Context, st Step) error {
	ctx, span := observability.Tracer().Start(ctx, "saga.step."+st.Name)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return err
	}
	if err := st.Do(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// rollback compensates done in reverse. Compensation ignores cancellation of
// the request context.
func (s *Saga) rollback(ctx context.Context, done []Step, res *Result) {
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.Compensate == nil {
			res.States[st.Name] = StateCompensated
			continue
		}
		if err := s.compensate(ctx, st); err != nil {
			res.States[st.Name] = StateOrphaned
			id := ""
			if st.ResourceID != nil {
				id = st.ResourceID()
			}
			res.Orphans = append(res.Orphans, Orphan{Step: st.Name, Resource: st.Resource, ID: id, Err: err})
			continue
		}
		res.States[st.Name] = StateCompensated
	}
}

func (s *Saga) compensate(ctx context.Context, st Step) error {
	ctx, span := observability.Tracer().Start(ctx, "saga.compensate."+st.Name)
	defer span.End()

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := st.Compensate(ctx)
		s.metrics.RecordCompensationAttempt(st.Name, err == nil)
		if err != nil {
			observability.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"saga":    s.name,
				"step":    st.Name,
				"attempt": attempt,
			}).Warn("compensation attempt failed")
		}
		return err
	}, s.retry.backOff())
	span.SetAttributes(attribute.Int("saga.compensation.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("compensate %s after %d attempts: %w", st.Name, attempt, err)
	}
	return nil
}

// IsRollback reports whether err came from a clean rollback.
func IsRollback(err error) bool {
	var rb *RollbackError
	return errors.As(err, &rb)
}
