package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hokuto/pressbeat/config"
	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/logger"
	"github.com/hokuto/pressbeat/schedule"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the schedule database",
	Long: `Manage schedule database operations.

Examples:
  pressbeat db migrate            # Apply pending schema migrations
  pressbeat db stats              # Show entry statistics
  pressbeat db prune              # Drop terminal entries past retention
  pressbeat db prune --days 7     # Override the retention window`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// openDatabase migrates as a side effect
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Println("Database schema is up to date")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show schedule entry statistics",
	RunE:  runDbStats,
}

var dbPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop terminal entries past the retention window",
	Long: `Delete posted, failed, and skipped entries that were last touched
before the retention window. Pending and in-progress entries are never
pruned.`,
	RunE: runDbPrune,
}

var pruneDaysFlag int

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbPruneCmd)
	dbPruneCmd.Flags().IntVar(&pruneDaysFlag, "days", 0, "Override retention_days for this prune")
}

func runDbStats(cmd *cobra.Command, args []string) error {
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
	counts, err := store.CountByState()
	if err != nil {
		return errors.Wrap(err, "failed to count entries")
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", cfg.Database.Path)
	fmt.Printf("Total Entries:  %d\n\n", total)
	for _, state := range []string{
		schedule.StatePending,
		schedule.StateInProgress,
		schedule.StatePosted,
		schedule.StateFailed,
		schedule.StateSkipped,
	} {
		fmt.Printf("  %-12s %d\n", state+":", counts[state])
	}
	fmt.Println()
	fmt.Printf("Retention:      %d days\n", cfg.Schedule.RetentionDays)
	return nil
}

func runDbPrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	days := cfg.Schedule.RetentionDays
	if pruneDaysFlag > 0 {
		days = pruneDaysFlag
	}
	if days <= 0 {
		days = 2
	}

	store := schedule.NewStore(database)
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed, err := store.Prune(cutoff)
	if err != nil {
		return errors.Wrap(err, "prune failed")
	}

	logger.Infow("Prune complete",
		"removed", removed,
		"retention_days", days,
	)
	fmt.Printf("Removed %d terminal entries older than %d days\n", removed, days)
	return nil
}
