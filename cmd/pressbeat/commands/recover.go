package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hokuto/pressbeat/config"
	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/executor"
	"github.com/hokuto/pressbeat/logger"
	"github.com/hokuto/pressbeat/runlock"
	"github.com/hokuto/pressbeat/schedule"
)

// RecoverCmd represents the recover command
var RecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Re-enqueue failed entries without publishing",
	Long: `Sweep failed entries back into the schedule without publishing anything.

Entries that have burned through their recovery rounds stay failed and
need manual intervention (skip them or fix the content and re-discover).

Examples:
  pressbeat recover              # One bounded sweep
  pressbeat recover --batch 10   # Sweep up to 10 entries`,
	RunE: runRecover,
}

var recoverBatchFlag int

func init() {
	RecoverCmd.Flags().IntVar(&recoverBatchFlag, "batch", 0, "Override the recovery batch size for this sweep")
}

func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	batch := cfg.Recovery.BatchSize
	if recoverBatchFlag > 0 {
		batch = recoverBatchFlag
	}

	store := schedule.NewStore(database)
	alloc := schedule.NewAllocator(store, cfg.Cadence(), cfg.FrontloadLead())
	sweeper := executor.NewSweeper(store, alloc, batch, cfg.Recovery.MaxRounds, logger.Logger)

	// The sweep mutates the schedule, so it contends with a live run
	lock := runlock.New(cfg.LockPath(), logger.Logger)
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, runlock.ErrLockHeld) {
			logger.Infow("Run in progress, recovery will happen on its next cycle")
			return nil
		}
		return err
	}
	defer lock.Release()

	recovered, err := sweeper.Sweep(time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "recovery sweep failed")
	}

	logger.Infow("Recovery sweep complete", "recovered", recovered)
	return nil
}
