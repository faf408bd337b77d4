// Package schedule persists and allocates publication slots.
//
// Every entry occupies one slot on a fixed cadence grid (15 minutes by
// default, 96 slots per day). The grid is anchored to the Unix epoch in UTC,
// so slot boundaries are identical across processes and restarts.
package schedule

import "time"

// Entry represents one piece of content scheduled for publication
type Entry struct {
	ID             string
	ContentKey     string // stable identifier for the content (for deduplication)
	ScheduledTime  time.Time
	State          string
	AttemptCount   int
	RecoveryRounds int
	Source         string // where the entry came from (for display/audit)
	Payload        string // JSON payload handed to the publisher
	LastError      string
	ExternalPostID string // identifier assigned by the CMS after a successful publish
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// State constants for schedule entries
const (
	StatePending    = "pending"     // Waiting for its slot to come due
	StateInProgress = "in_progress" // Claimed by an executor run
	StatePosted     = "posted"      // Published successfully (terminal)
	StateFailed     = "failed"      // Exhausted attempts or hit a fatal error
	StateSkipped    = "skipped"     // Cancelled by an operator (terminal)
)

// Source constants for schedule entries. Recovery re-enqueues go through
// the front-loading path and are marked frontload; recovery_rounds carries
// the audit trail.
const (
	SourceDiscovery = "discovery" // Steady-state: one item per discovery cycle
	SourceFrontload = "frontload" // Batch-discovered or re-enqueued at compressed slots
)

// Active reports whether the entry still holds its slot. The content key
// is held longer: every non-skipped entry reserves it, so a posted or
// failed item cannot be scheduled a second time.
func (e *Entry) Active() bool {
	return e.State == StatePending || e.State == StateInProgress
}

// Terminal reports whether the entry has reached a final state.
// Failed entries are terminal until the recovery sweeper re-enqueues them.
func (e *Entry) Terminal() bool {
	return e.State == StatePosted || e.State == StateFailed || e.State == StateSkipped
}

// legalTransitions maps each state to the states it may move to.
// pending -> skipped covers operator cancellation; failed -> pending covers
// recovery re-enqueue.
var legalTransitions = map[string][]string{
	StatePending:    {StateInProgress, StateSkipped},
	StateInProgress: {StatePosted, StateFailed, StatePending},
	StateFailed:     {StatePending},
}

// TransitionAllowed reports whether moving from one state to another is legal
func TransitionAllowed(from, to string) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
