package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hokuto/pressbeat/config"
	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/health"
	"github.com/hokuto/pressbeat/schedule"
)

// StatusCmd represents the status command
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schedule state and publish health",
	Long: `Display schedule entry counts, the upcoming slots, recent failures,
and the trailing publish success rate.

Examples:
  pressbeat status
  pressbeat status --upcoming 10`,
	RunE: runStatus,
}

var (
	upcomingFlag   int
	statusPingFlag bool
)

func init() {
	StatusCmd.Flags().IntVar(&upcomingFlag, "upcoming", 5, "Number of upcoming slots to show")
	StatusCmd.Flags().BoolVar(&statusPingFlag, "ping", false, "Also verify the CMS endpoint accepts our credentials")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	now := time.Now().UTC()

	counts, err := store.CountByState()
	if err != nil {
		return errors.Wrap(err, "failed to count entries")
	}

	fmt.Printf("Schedule Status\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database:    %s\n", cfg.Database.Path)
	fmt.Printf("Cadence:     every %d minutes\n\n", cfg.Schedule.CadenceMinutes)

	fmt.Printf("Entries:\n")
	fmt.Printf("  Pending:     %s\n", pterm.Cyan(fmt.Sprintf("%d", counts[schedule.StatePending])))
	fmt.Printf("  In progress: %d\n", counts[schedule.StateInProgress])
	fmt.Printf("  Posted:      %s\n", pterm.Green(fmt.Sprintf("%d", counts[schedule.StatePosted])))
	fmt.Printf("  Failed:      %s\n", colorCount(counts[schedule.StateFailed]))
	fmt.Printf("  Skipped:     %d\n\n", counts[schedule.StateSkipped])

	if err := printUpcoming(store, now); err != nil {
		return err
	}
	if err := printFailures(store); err != nil {
		return err
	}
	if err := printHealth(store, cfg, now); err != nil {
		return err
	}

	if statusPingFlag {
		return pingPublisher(cmd, cfg)
	}
	return nil
}

func pingPublisher(cmd *cobra.Command, cfg *config.Config) error {
	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	fmt.Printf("\nCMS Connection:\n")
	if err := publisher.Ping(ctx); err != nil {
		fmt.Printf("  %s %v\n", pterm.Red("✗"), err)
		return err
	}
	fmt.Printf("  %s %s\n", pterm.Green("✓"), cfg.Publisher.URL)
	return nil
}

func printUpcoming(store *schedule.Store, now time.Time) error {
	pending, err := store.ListByState(schedule.StatePending, upcomingFlag)
	if err != nil {
		return errors.Wrap(err, "failed to list pending entries")
	}

	fmt.Printf("Upcoming Slots:\n")
	if len(pending) == 0 {
		fmt.Println(pterm.Gray("  (schedule is empty)"))
		fmt.Println()
		return nil
	}

	for _, entry := range pending {
		slot := entry.ScheduledTime.UTC()
		label := slot.Format("2006-01-02 15:04")
		if slot.Before(now) {
			label = pterm.Yellow(label + " (overdue)")
		}
		fmt.Printf("  %s  %s\n", label, entry.ContentKey)
	}
	fmt.Println()
	return nil
}

func printFailures(store *schedule.Store) error {
	failed, err := store.ListByState(schedule.StateFailed, 5)
	if err != nil {
		return errors.Wrap(err, "failed to list failed entries")
	}
	if len(failed) == 0 {
		return nil
	}

	fmt.Printf("Recent Failures:\n")
	for _, entry := range failed {
		fmt.Printf("  %s  %s\n", pterm.Red(entry.ContentKey),
			pterm.Gray(fmt.Sprintf("round %d/%d attempts, last: %s",
				entry.RecoveryRounds, entry.AttemptCount, truncate(entry.LastError, 60))))
	}
	fmt.Println()
	return nil
}

func printHealth(store *schedule.Store, cfg *config.Config, now time.Time) error {
	monitor := health.NewMonitor(store,
		time.Duration(cfg.Health.WindowHours)*time.Hour,
		cfg.Health.DegradedThreshold,
		cfg.Health.MinSamples,
	)
	report, err := monitor.Check(now)
	if err != nil {
		return errors.Wrap(err, "health check failed")
	}

	fmt.Printf("Publish Health (last %dh):\n", cfg.Health.WindowHours)
	if !report.Sufficient {
		fmt.Printf("  %s (%d outcomes, need %d)\n",
			pterm.Gray("not enough data"), report.Posted+report.Failed, cfg.Health.MinSamples)
		return nil
	}

	rate := fmt.Sprintf("%.1f%%", report.SuccessRate*100)
	if report.Degraded {
		fmt.Printf("  Success rate: %s %s\n", pterm.Red(rate), pterm.Red("DEGRADED"))
	} else {
		fmt.Printf("  Success rate: %s\n", pterm.Green(rate))
	}
	fmt.Printf("  Posted: %d  Failed: %d\n", report.Posted, report.Failed)
	return nil
}

func colorCount(n int) string {
	s := fmt.Sprintf("%d", n)
	if n > 0 {
		return pterm.Red(s)
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
