package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/retailops/pkg/async"
	"github.com/platinummonkey/retailops/pkg/identity"
	"github.com/platinummonkey/retailops/pkg/observability"
)

// ProfileProber reports whether an identity has a profile row.
type ProfileProber interface {
	ProfileExists(ctx context.Context, id string) (bool, error)
}

// Identities is the part of identity.Provider the job uses.
type Identities interface {
	ListIdentities(ctx context.Context, page, perPage int) ([]identity.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// Config tunes a Job.
type Config struct {
	PageSize    int
	Concurrency int
	// MinAge skips identities created more recently than this. Zero checks
	// every identity.
	MinAge time.Duration
	// DryRun reports orphans without deleting them.
	DryRun bool
	// DeleteTimeout bounds each identity delete.
	DeleteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize < 1 {
		c.PageSize = 100
	}
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = 10 * time.Second
	}
	return c
}

// Orphan is an identity without a profile.
type Orphan struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Report summarizes one run.
type Report struct {
	TotalChecked        int       `json:"totalChecked"`
	OrphanedFound       int       `json:"orphanedFound"`
	SuccessfullyDeleted int       `json:"successfullyDeleted"`
	FailedToDelete      int       `json:"failedToDelete"`
	SkippedTooRecent    int       `json:"skippedTooRecent"`
	SkippedRelinked     int       `json:"skippedRelinked"`
	DryRun              bool      `json:"dryRun"`
	Errors              []string  `json:"errors"`
	Orphans             []Orphan  `json:"orphans"`
	StartedAt           time.Time `json:"startedAt"`
	FinishedAt          time.Time `json:"finishedAt"`
}

// Job finds identities whose profile is missing and deletes them.
type Job struct {
	identities Identities
	profiles   ProfileProber
	cfg        Config
	log        logrus.FieldLogger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewJob creates a reconciliation job. metrics may be nil.
func NewJob(identities Identities, profiles ProfileProber, cfg Config, log logrus.FieldLogger, metrics *observability.Metrics) *Job {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Job{
		identities: identities,
		profiles:   profiles,
		cfg:        cfg.withDefaults(),
		log:        log.WithField("job", "reconcile"),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run executes one pass. It only returns an error when identities cannot be
// listed or the context ends; per-identity failures land in the report.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		DryRun:    j.cfg.DryRun,
		Errors:    []string{},
		Orphans:   []Orphan{},
		StartedAt: j.now().UTC(),
	}

	all, err := j.enumerate(ctx)
	if err != nil {
		j.metrics.RecordReconcileRun("error", 0, 0, 0)
		return nil, err
	}
	report.TotalChecked = len(all)

	if err := j.probe(ctx, all, report); err != nil {
		j.metrics.RecordReconcileRun("error", 0, 0, 0)
		return nil, err
	}
	report.OrphanedFound = len(report.Orphans)

	if !j.cfg.DryRun && len(report.Orphans) > 0 {
		j.delete(ctx, report)
	}
	report.FinishedAt = j.now().UTC()

	status := "ok"
	switch {
	case j.cfg.DryRun:
		status = "dry_run"
	case report.FailedToDelete > 0:
		status = "partial"
	}
	j.metrics.RecordReconcileRun(status, report.OrphanedFound, report.SuccessfullyDeleted, report.FailedToDelete)

	j.log.WithFields(logrus.Fields{
		"total_checked":        report.TotalChecked,
		"orphaned_found":       report.OrphanedFound,
		"successfully_deleted": report.SuccessfullyDeleted,
		"failed_to_delete":     report.FailedToDelete,
		"skipped_too_recent":   report.SkippedTooRecent,
		"skipped_relinked":     report.SkippedRelinked,
		"dry_run":              report.DryRun,
	}).Info("reconciliation finished")
	return report, nil
}

func (j *Job) enumerate(ctx context.Context) ([]identity.Identity, error) {
	var all []identity.Identity
	for page := 1; ; page++ {
		batch, err := j.identities.ListIdentities(ctx, page, j.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list identities (page %d): %w", page, err)
		}
		all = append(all, batch...)
		if len(batch) < j.cfg.PageSize {
			return all, nil
		}
	}
}

// probe records identities without a profile. A failed probe is reported
// and the identity is left alone.
func (j *Job) probe(ctx context.Context, all []identity.Identity, report *Report) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)

	cutoff := j.now().Add(-j.cfg.MinAge)
	for _, ident := range all {
		ident := ident
		if j.cfg.MinAge > 0 && ident.CreatedAt.After(cutoff) {
			report.SkippedTooRecent++
			continue
		}

		g.Go(func() error {
			exists, err := j.profiles.ProfileExists(gctx, ident.ID)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("probe %s: %v", ident.ID, err))
				return nil
			}
			if !exists {
				report.Orphans = append(report.Orphans, Orphan{ID: ident.ID, Email: ident.Email, CreatedAt: ident.CreatedAt})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("probe interrupted: %w", err)
	}

	sort.Slice(report.Orphans, func(a, b int) bool {
		if report.Orphans[a].CreatedAt.Equal(report.Orphans[b].CreatedAt) {
			return report.Orphans[a].ID < report.Orphans[b].ID
		}
		return report.Orphans[a].CreatedAt.Before(report.Orphans[b].CreatedAt)
	})
	return nil
}

// delete removes each orphan, re-probing first so that a profile created
// since the probe phase keeps its identity. Every orphan ends up deleted,
// relinked or failed, including those never reached before ctx ended.
func (j *Job) delete(ctx context.Context, report *Report) {
	var mu sync.Mutex
	started := make(map[string]bool, len(report.Orphans))
	fail := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.FailedToDelete++
		report.Errors = append(report.Errors, fmt.Sprintf("delete %s: %v", id, err))
	}

	errs := async.Batch(ctx, report.Orphans, async.PoolConfig{
		Workers: j.cfg.Concurrency,
		Name:    "reconcile-delete",
		Timeout: j.cfg.DeleteTimeout,
		Logger:  j.log,
	}, func(ctx context.Context, o Orphan) error {
		mu.Lock()
		started[o.ID] = true
		mu.Unlock()

		exists, err := j.profiles.ProfileExists(ctx, o.ID)
		if err != nil {
			fail(o.ID, fmt.Errorf("re-probe: %w", err))
			return nil
		}
		if exists {
			mu.Lock()
			report.SkippedRelinked++
			mu.Unlock()
			return nil
		}

		if err := j.identities.DeleteIdentity(ctx, o.ID); err != nil {
			j.log.WithError(err).WithField("identity_id", o.ID).Warn("failed to delete orphaned identity")
			fail(o.ID, err)
			return nil
		}

		mu.Lock()
		report.SuccessfullyDeleted++
		mu.Unlock()
		j.log.WithFields(logrus.Fields{
			"identity_id": o.ID,
			"email":       o.Email,
		}).Info("deleted orphaned identity")
		return nil
	})

	// Tasks never fail on their own; errs holds panics and orphans that were
	// never started.
	var notStarted error
	for _, err := range errs {
		if errors.Is(err, async.ErrNotStarted) {
			notStarted = err
			continue
		}
		fail("", err)
	}
	if notStarted == nil {
		return
	}
	for _, o := range report.Orphans {
		if !started[o.ID] {
			fail(o.ID, notStarted)
		}
	}
}
