package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/retailops/pkg/accounts"
	"github.com/platinummonkey/retailops/pkg/audit"
	"github.com/platinummonkey/retailops/pkg/config"
	"github.com/platinummonkey/retailops/pkg/identity"
	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/reconcile"
	"github.com/platinummonkey/retailops/pkg/storage/postgres"
)

var (
	runOnce = flag.String("run-once", "", "Run one job (reconcile or export) and exit")
	dryRun  = flag.Bool("dry-run", false, "Report orphaned identities without deleting them")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
		log.SetLevel(level)
	}
	if *dryRun {
		cfg.Reconcile.DryRun = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, observability.NewLogger(cfg.Observability.LogLevel, os.Stdout))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	jobs, err := newJobs(ctx, cfg, conns, log)
	if err != nil {
		log.Fatalf("Failed to initialize jobs: %v", err)
	}

	// Run once mode (for operators and backfills)
	if *runOnce != "" {
		if err := jobs.run(ctx, *runOnce); err != nil {
			log.Fatalf("Job %s failed: %v", *runOnce, err)
		}
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err = c.AddFunc(cfg.Reconcile.Schedule, func() {
		if err := jobs.run(ctx, "reconcile"); err != nil {
			log.WithError(err).Error("Reconciliation failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule reconciliation: %v", err)
	}

	if jobs.exporter != nil {
		_, err = c.AddFunc(cfg.AuditExport.Schedule, func() {
			if err := jobs.run(ctx, "export"); err != nil {
				log.WithError(err).Error("Audit export failed")
			}
		})
		if err != nil {
			log.Fatalf("Failed to schedule audit export: %v", err)
		}
	}

	c.Start()
	log.Info("retailops worker started")
	log.Infof("Reconciliation schedule: %s", cfg.Reconcile.Schedule)
	if jobs.exporter != nil {
		log.Infof("Audit export schedule: %s", cfg.AuditExport.Schedule)
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutting down gracefully...")

	// Let running jobs finish before the context goes away.
	stopped := c.Stop()
	<-stopped.Done()
	cancel()

	log.Info("Worker stopped")
}

type workerJobs struct {
	reconciler *reconcile.Job
	exporter   *audit.Exporter
	log        logrus.FieldLogger
}

func newJobs(ctx context.Context, cfg *config.Config, conns *postgres.ConnectionManager, log *logrus.Logger) (*workerJobs, error) {
	var idp reconcile.Identities
	switch cfg.Identity.Mode {
	case config.IdentityModeMemory:
		return nil, fmt.Errorf("reconciliation needs a shared identity provider; identity mode %q is process-local", cfg.Identity.Mode)
	default:
		idp = identity.NewAdminClient(ctx, identity.AdminConfig{
			BaseURL:      cfg.Identity.AdminURL,
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			TokenURL:     cfg.Identity.TokenURL,
			Scopes:       cfg.Identity.Scopes,
			Timeout:      cfg.Identity.Timeout,
		})
	}

	if cfg.Reconcile.MinAge == 0 {
		log.Warn("RETAILOPS_RECONCILE_MIN_AGE is 0: identities created moments ago may be deleted while their account is still being provisioned")
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	jobs := &workerJobs{
		reconciler: reconcile.NewJob(idp, accounts.NewRepository(conns.Primary()), reconcile.Config{
			PageSize:    cfg.Reconcile.PageSize,
			Concurrency: cfg.Reconcile.Concurrency,
			MinAge:      cfg.Reconcile.MinAge,
			DryRun:      cfg.Reconcile.DryRun,
		}, log, metrics),
		log: log,
	}

	if cfg.AuditExport.Enabled {
		sink, err := postgres.NewS3Client(ctx, postgres.S3Config{
			Bucket:    cfg.AuditExport.S3Bucket,
			Region:    cfg.AuditExport.S3Region,
			Endpoint:  cfg.AuditExport.S3Endpoint,
			AccessKey: cfg.AuditExport.S3AccessKey,
			SecretKey: cfg.AuditExport.S3SecretKey,
			PathStyle: cfg.AuditExport.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create audit export sink: %w", err)
		}
		auditStore := audit.NewDBStore(conns.Primary())
		auditLogger := audit.NewLogger(auditStore, metrics, observability.NewLogger(cfg.Observability.LogLevel, os.Stdout))
		jobs.exporter = audit.NewExporter(auditStore, sink, auditLogger, cfg.AuditExport.S3Prefix, cfg.AuditExport.Lookback)
	}

	return jobs, nil
}

func (j *workerJobs) run(ctx context.Context, name string) error {
	start := time.Now()
	switch name {
	case "reconcile":
		report, err := j.reconciler.Run(ctx)
		if err != nil {
			return err
		}
		j.log.WithFields(logrus.Fields{
			"orphaned": report.OrphanedFound,
			"deleted":  report.SuccessfullyDeleted,
			"failed":   report.FailedToDelete,
			"elapsed":  time.Since(start).String(),
		}).Info("Reconciliation completed")
		return nil
	case "export":
		if j.exporter == nil {
			return fmt.Errorf("audit export is disabled")
		}
		res, err := j.exporter.Run(ctx)
		if err != nil {
			return err
		}
		j.log.WithFields(logrus.Fields{
			"key":     res.Key,
			"entries": res.Entries,
			"elapsed": time.Since(start).String(),
		}).Info("Audit export completed")
		return nil
	}
	return fmt.Errorf("unknown job %q", name)
}
