package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hokuto/pressbeat/cmd/pressbeat/commands"
	"github.com/hokuto/pressbeat/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pressbeat",
	Short: "pressbeat - Scheduled publication orchestrator",
	Long: `pressbeat - Scheduled publication orchestrator.

pressbeat spreads content publication across a fixed 15-minute slot grid
(96 slots per day) and publishes one slot per invocation. It is designed
to be driven by cron: each run takes a process lock, recovers failed
entries, publishes the due slot, and exits.

Available commands:
  run      - Publish the due slot (cron entry point)
  recover  - Re-enqueue failed entries without publishing
  status   - Show schedule state and publish health
  discover - Schedule new content from a discovery source
  db       - Manage the schedule database
  config   - Inspect configuration

Examples:
  pressbeat run                    # Publish the due slot, if any
  pressbeat run --catch-up 4       # Work through up to 4 overdue slots
  pressbeat discover --from posts.json --front-load
  pressbeat status                 # Show schedule and health
  pressbeat db prune               # Drop old terminal entries`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	// JSON logs for cron capture, console output otherwise
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.RecoverCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.DiscoverCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
