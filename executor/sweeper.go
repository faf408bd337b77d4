package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/schedule"
)

// Sweeper re-enqueues failed entries into front-loaded slots.
//
// Each sweep is bounded: at most batchSize entries per run, and an entry
// is only swept until it has burned maxRounds recovery rounds. Entries
// past that ceiling stay failed for an operator to look at.
type Sweeper struct {
	store     *schedule.Store
	alloc     *schedule.Allocator
	batchSize int
	maxRounds int
	logger    *zap.SugaredLogger
}

// NewSweeper creates a recovery sweeper. Zero batchSize and maxRounds
// fall back to 3 and 2.
func NewSweeper(store *schedule.Store, alloc *schedule.Allocator, batchSize, maxRounds int, logger *zap.SugaredLogger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 3
	}
	if maxRounds <= 0 {
		maxRounds = 2
	}
	return &Sweeper{
		store:     store,
		alloc:     alloc,
		batchSize: batchSize,
		maxRounds: maxRounds,
		logger:    logger,
	}
}

// Sweep re-enqueues eligible failed entries and returns how many moved
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	entries, err := s.store.FailedForRecovery(s.batchSize, s.maxRounds)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	slots, err := s.alloc.FrontLoad(now, len(entries))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i, entry := range entries {
		err := s.store.Requeue(entry.ID, slots[i])
		if err != nil {
			// A concurrent writer took the slot between allocation and
			// requeue; the entry stays failed for the next sweep
			if errors.Is(err, schedule.ErrSlotCollision) {
				if s.logger != nil {
					s.logger.Warnw("Skipping recovery after slot collision",
						"entry_id", entry.ID,
						"content_key", entry.ContentKey,
					)
				}
				continue
			}
			return recovered, err
		}

		recovered++
		if s.logger != nil {
			s.logger.Infow("Re-enqueued failed entry",
				"entry_id", entry.ID,
				"content_key", entry.ContentKey,
				"slot", slots[i].Format(time.RFC3339),
				"recovery_round", entry.RecoveryRounds+1,
			)
		}
	}

	return recovered, nil
}
