package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hokuto/pressbeat/config"
	"github.com/hokuto/pressbeat/discovery"
	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/logger"
	"github.com/hokuto/pressbeat/schedule"
)

// DiscoverCmd represents the discover command
var DiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Schedule new content from a discovery source",
	Long: `Read content items from a JSON source and place them into the schedule.

Each item needs a content_key and a payload in the CMS's post format.
Items the schedule already holds an active entry for are skipped.

By default new entries extend the schedule tail, one slot per cadence.
With --front-load the first entries land shortly after now instead,
which is how an empty schedule gets bootstrapped.

Examples:
  pressbeat discover --from posts.json
  pressbeat discover --from - < posts.json   # Read from stdin
  pressbeat discover --from posts.json --front-load`,
	RunE: runDiscover,
}

var (
	discoverFromFlag      string
	discoverFrontLoadFlag bool
	discoverDryRunFlag    bool
)

func init() {
	DiscoverCmd.Flags().StringVar(&discoverFromFlag, "from", "", "JSON file of items to schedule, or - for stdin")
	DiscoverCmd.Flags().BoolVar(&discoverFrontLoadFlag, "front-load", false, "Compress the first slots to shortly after now")
	DiscoverCmd.Flags().BoolVar(&discoverDryRunFlag, "dry-run", false, "Validate the source and list items without scheduling")
	DiscoverCmd.MarkFlagRequired("from")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	source := discovery.NewFileSource(discoverFromFlag)
	items, err := source.Discover(cmd.Context())
	if err != nil {
		return err
	}

	if discoverDryRunFlag {
		for _, item := range items {
			fmt.Println(item.ContentKey)
		}
		logger.Infow("Dry run, nothing scheduled",
			"source", discoverFromFlag,
			"items", len(items),
		)
		return nil
	}
	if len(items) == 0 {
		logger.Infow("Nothing to schedule", "source", discoverFromFlag)
		return nil
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStore(database)
	alloc := schedule.NewAllocator(store, cfg.Cadence(), cfg.FrontloadLead())

	result, err := discovery.Schedule(alloc, items, time.Now().UTC(), discoverFrontLoadFlag, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to schedule discovered items")
	}

	logger.Infow("Discovery complete",
		"source", discoverFromFlag,
		"added", result.Added,
		"duplicates", result.Duplicates,
	)
	return nil
}
