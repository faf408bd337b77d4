package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hokuto/pressbeat/config"
	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/executor"
	"github.com/hokuto/pressbeat/health"
	"github.com/hokuto/pressbeat/logger"
	"github.com/hokuto/pressbeat/publish"
	"github.com/hokuto/pressbeat/runlock"
	"github.com/hokuto/pressbeat/schedule"
)

// RunCmd represents the run command, the cron entry point
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish the due slot",
	Long: `Publish the slot that has come due, if any.

Each invocation takes the process lock, re-enqueues recoverable failed
entries, publishes at most one due slot, and exits. An invocation that
finds the lock held exits cleanly without doing anything.

With --catch-up N the run works through up to N overdue slots, paced
against the CMS, instead of one.

Examples:
  pressbeat run                # Cron entry point, one slot
  pressbeat run --catch-up 8   # Clear a backlog after downtime`,
	RunE: runRun,
}

var catchUpFlag int

func init() {
	RunCmd.Flags().IntVar(&catchUpFlag, "catch-up", 0, "Process up to N overdue slots in this run")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}

	store := schedule.NewStore(database)
	alloc := schedule.NewAllocator(store, cfg.Cadence(), cfg.FrontloadLead())
	sweeper := executor.NewSweeper(store, alloc, cfg.Recovery.BatchSize, cfg.Recovery.MaxRounds, logger.Logger)
	lock := runlock.New(cfg.LockPath(), logger.Logger)
	exec := executor.New(store, sweeper, publisher, lock, cfg.Schedule.MaxAttempts, cfg.PublishTimeout(), logger.Logger)

	now := time.Now().UTC()
	var report *executor.Report
	if catchUpFlag > 0 {
		report, err = exec.CatchUp(cmd.Context(), now, catchUpFlag)
	} else {
		report, err = exec.RunOnce(cmd.Context(), now)
	}
	if err != nil {
		return errors.Wrap(err, "run failed")
	}

	if report.LockHeld {
		return nil
	}

	logger.Infow("Run complete",
		"recovered", report.Recovered,
		"reset", report.Reset,
		"processed", report.Processed,
		"posted", report.Posted,
		"retried", report.Retried,
		"failed", report.Failed,
	)

	checkHealth(store, cfg, now)
	return nil
}

// buildPublisher constructs the CMS publisher from configuration
func buildPublisher(cfg *config.Config) (publish.Publisher, error) {
	if cfg.Publisher.URL == "" {
		return nil, errors.New("publisher.url is not configured (set PRESSBEAT_PUBLISHER_URL or add it to pressbeat.toml)")
	}
	return publish.NewHTTPPublisher(
		cfg.Publisher.URL,
		cfg.Publisher.Username,
		cfg.Publisher.Password,
		cfg.Publisher.RequestsPerMinute,
		logger.Logger,
	), nil
}

// checkHealth logs a warning when the trailing success rate is degraded.
// Health problems never fail the run itself.
func checkHealth(store *schedule.Store, cfg *config.Config, now time.Time) {
	monitor := health.NewMonitor(store,
		time.Duration(cfg.Health.WindowHours)*time.Hour,
		cfg.Health.DegradedThreshold,
		cfg.Health.MinSamples,
	)
	report, err := monitor.Check(now)
	if err != nil {
		logger.Warnw("Health check failed", "error", err)
		return
	}
	if report.Degraded {
		logger.Warnw("Publish health degraded",
			"success_rate", report.SuccessRate,
			"posted", report.Posted,
			"failed", report.Failed,
			"window_hours", cfg.Health.WindowHours,
		)
	}
}
