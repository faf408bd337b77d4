// Package executor drives one publication run.
//
// Each invocation is expected to come from cron on the slot cadence. A run
// takes the process lock, sweeps failed entries back into the schedule,
// resets work orphaned by a crashed run, then publishes at most one due
// slot (or up to N in catch-up mode) and records the outcome.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/publish"
	"github.com/hokuto/pressbeat/runlock"
	"github.com/hokuto/pressbeat/schedule"
)

// Executor publishes due schedule entries
type Executor struct {
	store          *schedule.Store
	sweeper        *Sweeper
	publisher      publish.Publisher
	lock           *runlock.Lock
	maxAttempts    int
	publishTimeout time.Duration
	logger         *zap.SugaredLogger
}

// New creates an executor. Zero maxAttempts and publishTimeout fall back
// to 3 attempts and 5 minutes.
func New(store *schedule.Store, sweeper *Sweeper, publisher publish.Publisher, lock *runlock.Lock, maxAttempts int, publishTimeout time.Duration, logger *zap.SugaredLogger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Minute
	}
	return &Executor{
		store:          store,
		sweeper:        sweeper,
		publisher:      publisher,
		lock:           lock,
		maxAttempts:    maxAttempts,
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// Outcome constants for a processed entry
const (
	OutcomePosted  = "posted"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

// Report summarizes one run
type Report struct {
	LockHeld  bool // another run was in progress; nothing was done
	Recovered int  // failed entries re-enqueued by the sweeper
	Reset     int  // orphaned in_progress entries returned to pending
	Processed int  // entries published or charged an attempt
	Posted    int
	Retried   int
	Failed    int
}

// RunOnce processes at most one due slot
func (e *Executor) RunOnce(ctx context.Context, now time.Time) (*Report, error) {
	return e.run(ctx, now, 1)
}

// CatchUp processes up to limit due slots in one invocation. Pacing toward
// the CMS is the publisher's concern.
func (e *Executor) CatchUp(ctx context.Context, now time.Time, limit int) (*Report, error) {
	if limit <= 0 {
		limit = 1
	}
	return e.run(ctx, now, limit)
}

func (e *Executor) run(ctx context.Context, now time.Time, limit int) (*Report, error) {
	report := &Report{}

	if err := e.lock.Acquire(); err != nil {
		if errors.Is(err, runlock.ErrLockHeld) {
			// Overlapping cron invocation; the running instance owns this slot
			if e.logger != nil {
				e.logger.Infow("Run already in progress, nothing to do", "error", err)
			}
			report.LockHeld = true
			return report, nil
		}
		return nil, err
	}
	defer e.lock.Release()

	if e.sweeper != nil {
		recovered, err := e.sweeper.Sweep(now)
		if err != nil {
			return report, err
		}
		report.Recovered = recovered
	}

	// After the sweep, so an orphan failed here waits for the next run's
	// sweep instead of going straight back into the schedule
	reset, err := e.resetOrphans(now)
	if err != nil {
		return report, err
	}
	report.Reset = reset

	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		entry, err := e.store.NextDue(now)
		if err != nil {
			return report, err
		}
		if entry == nil {
			if e.logger != nil && report.Processed == 0 {
				e.logger.Infow("No slot due", "now", now.Format(time.RFC3339))
			}
			break
		}

		outcome, err := e.processEntry(ctx, entry)
		if err != nil {
			return report, err
		}

		report.Processed++
		switch outcome {
		case OutcomePosted:
			report.Posted++
		case OutcomeRetried:
			report.Retried++
		case OutcomeFailed:
			report.Failed++
		}

		// A retried entry stays pending and due; stop instead of burning
		// its whole attempt budget within a single run. A failed entry
		// means the CMS is rejecting us, so the rest of the backlog waits
		// rather than failing wholesale in one invocation.
		if outcome == OutcomeRetried || outcome == OutcomeFailed {
			break
		}
	}

	return report, nil
}

// processEntry claims the entry, publishes it, and records the outcome
func (e *Executor) processEntry(ctx context.Context, entry *schedule.Entry) (string, error) {
	if err := e.store.Claim(entry.ID); err != nil {
		return "", errors.Wrapf(err, "failed to claim entry %s", entry.ID)
	}
	attempt := entry.AttemptCount + 1

	if e.logger != nil {
		e.logger.Infow("Publishing entry",
			"entry_id", entry.ID,
			"content_key", entry.ContentKey,
			"slot", entry.ScheduledTime.Format(time.RFC3339),
			"attempt", attempt,
		)
	}

	pubCtx, cancel := context.WithTimeout(ctx, e.publishTimeout)
	defer cancel()

	result, pubErr := e.publisher.Publish(pubCtx, &publish.Request{
		ContentKey:  entry.ContentKey,
		Payload:     entry.Payload,
		ScheduledAt: entry.ScheduledTime,
	})
	if pubErr == nil {
		if err := e.store.MarkPosted(entry.ID, result.ExternalPostID); err != nil {
			return "", err
		}
		if e.logger != nil {
			e.logger.Infow("Entry posted",
				"entry_id", entry.ID,
				"content_key", entry.ContentKey,
				"external_post_id", result.ExternalPostID,
			)
		}
		return OutcomePosted, nil
	}

	kind := publish.Classify(pubErr)
	retryable := publish.Retryable(pubErr) && attempt < e.maxAttempts

	if retryable {
		if err := e.store.ReleaseForRetry(entry.ID, pubErr.Error()); err != nil {
			return "", err
		}
		if e.logger != nil {
			e.logger.Warnw("Publish failed, will retry",
				"entry_id", entry.ID,
				"content_key", entry.ContentKey,
				"kind", kind.String(),
				"attempt", attempt,
				"max_attempts", e.maxAttempts,
				"error", pubErr,
			)
		}
		return OutcomeRetried, nil
	}

	if err := e.store.MarkFailed(entry.ID, pubErr.Error()); err != nil {
		return "", err
	}
	if e.logger != nil {
		e.logger.Errorw("Publish failed, entry marked failed",
			"entry_id", entry.ID,
			"content_key", entry.ContentKey,
			"kind", kind.String(),
			"attempt", attempt,
			"error", pubErr,
		)
	}
	return OutcomeFailed, nil
}

// resetOrphans returns entries stuck in_progress by a crashed run to
// pending, or fails them when their attempt budget is spent. The cutoff
// sits one publish timeout in the past so a concurrent publish is never
// mistaken for an orphan.
func (e *Executor) resetOrphans(now time.Time) (int, error) {
	stale, err := e.store.StaleInProgress(now.Add(-e.publishTimeout))
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, entry := range stale {
		if entry.AttemptCount >= e.maxAttempts {
			if err := e.store.MarkFailed(entry.ID, "abandoned by interrupted run"); err != nil {
				return reset, err
			}
		} else {
			if err := e.store.ReleaseForRetry(entry.ID, "abandoned by interrupted run"); err != nil {
				return reset, err
			}
		}
		reset++
		if e.logger != nil {
			e.logger.Warnw("Reset orphaned entry from interrupted run",
				"entry_id", entry.ID,
				"content_key", entry.ContentKey,
				"attempt_count", entry.AttemptCount,
			)
		}
	}

	return reset, nil
}
