package schedule

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hokuto/pressbeat/errors"
)

// Store handles persistence of schedule entries
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, content_key, scheduled_time, state, attempt_count,
	       recovery_rounds, source, payload, last_error, external_post_id,
	       created_at, updated_at`

// Put inserts a new entry. The partial unique indexes enforce one active
// entry per slot and one non-skipped entry per content key; violations map
// to ErrSlotCollision and ErrDuplicateContent.
func (s *Store) Put(entry *Entry) error {
	query := `
		INSERT INTO schedule_entries (
			id, content_key, scheduled_time, state, attempt_count,
			recovery_rounds, source, payload, last_error, external_post_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	var lastError interface{}
	if entry.LastError != "" {
		lastError = entry.LastError
	}

	var externalPostID interface{}
	if entry.ExternalPostID != "" {
		externalPostID = entry.ExternalPostID
	}

	_, err := s.db.Exec(query,
		entry.ID,
		entry.ContentKey,
		entry.ScheduledTime.UTC().Format(time.RFC3339),
		entry.State,
		entry.AttemptCount,
		entry.RecoveryRounds,
		entry.Source,
		entry.Payload,
		lastError,
		externalPostID,
		entry.CreatedAt.Format(time.RFC3339),
		entry.UpdatedAt.Format(time.RFC3339),
	)

	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			if strings.Contains(err.Error(), "idx_schedule_entries_active_content") {
				return errors.Wrapf(ErrDuplicateContent, "content_key %s", entry.ContentKey)
			}
			return errors.Wrapf(ErrSlotCollision, "slot %s", entry.ScheduledTime.UTC().Format(time.RFC3339))
		}
		return errors.Wrap(err, "failed to insert schedule entry")
	}

	return nil
}

// Get retrieves an entry by ID
func (s *Store) Get(id string) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule_entries
		WHERE id = ?
	`

	entry, err := scanEntry(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrEntryNotFound, "id %s", id)
		}
		return nil, errors.Wrap(err, "failed to get schedule entry")
	}
	return entry, nil
}

// NextDue returns the oldest pending entry whose slot has come due,
// or nil if nothing is due.
func (s *Store) NextDue(now time.Time) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule_entries
		WHERE state = ? AND scheduled_time <= ?
		ORDER BY scheduled_time ASC
		LIMIT 1
	`

	entry, err := scanEntry(s.db.QueryRow(query, StatePending, now.UTC().Format(time.RFC3339)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // nothing due
		}
		return nil, errors.Wrap(err, "failed to get next due entry")
	}
	return entry, nil
}

// Transition moves an entry between states with a compare-and-swap on the
// current state. Concurrent writers racing for the same entry see
// ErrIllegalTransition because the loser's expected state no longer holds.
func (s *Store) Transition(id, from, to string) error {
	return s.transition(id, from, to, "", nil)
}

// Claim atomically moves a pending entry to in_progress and charges one
// attempt against it.
func (s *Store) Claim(id string) error {
	return s.transition(id, StatePending, StateInProgress,
		"attempt_count = attempt_count + 1", nil)
}

// ReleaseForRetry returns an in_progress entry to pending after a transient
// failure, recording the error. The attempt already charged by Claim stands.
func (s *Store) ReleaseForRetry(id, lastError string) error {
	return s.transition(id, StateInProgress, StatePending,
		"last_error = ?", []interface{}{lastError})
}

// MarkPosted finalizes a successful publish with the CMS-assigned post ID
func (s *Store) MarkPosted(id, externalPostID string) error {
	return s.transition(id, StateInProgress, StatePosted,
		"external_post_id = ?, last_error = NULL", []interface{}{externalPostID})
}

// MarkFailed moves an in_progress entry to failed, recording the error
func (s *Store) MarkFailed(id, lastError string) error {
	return s.transition(id, StateInProgress, StateFailed,
		"last_error = ?", []interface{}{lastError})
}

// Skip cancels a pending entry, releasing its slot and content key
func (s *Store) Skip(id string) error {
	return s.transition(id, StatePending, StateSkipped, "", nil)
}

// Requeue returns a failed entry to pending at a new slot with a fresh
// attempt budget and a clean error, charging one recovery round.
func (s *Store) Requeue(id string, newSlot time.Time) error {
	return s.transition(id, StateFailed, StatePending,
		"scheduled_time = ?, attempt_count = 0, last_error = NULL, recovery_rounds = recovery_rounds + 1, source = ?",
		[]interface{}{newSlot.UTC().Format(time.RFC3339), SourceFrontload})
}

// transition performs the CAS update. extraSet is an optional SQL fragment
// of additional assignments with its bound args.
func (s *Store) transition(id, from, to, extraSet string, extraArgs []interface{}) error {
	if !TransitionAllowed(from, to) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
	}

	set := "state = ?, updated_at = ?"
	if extraSet != "" {
		set += ", " + extraSet
	}
	query := "UPDATE schedule_entries SET " + set + " WHERE id = ? AND state = ?"

	args := []interface{}{to, time.Now().UTC().Format(time.RFC3339)}
	args = append(args, extraArgs...)
	args = append(args, id, from)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			// Requeue into a slot that became occupied
			return errors.Wrapf(ErrSlotCollision, "entry %s", id)
		}
		return errors.Wrapf(err, "failed to transition entry %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}

	if rows == 0 {
		// Either the entry is gone or its state changed under us
		var state string
		err := s.db.QueryRow("SELECT state FROM schedule_entries WHERE id = ?", id).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(ErrEntryNotFound, "id %s", id)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read state for entry %s", id)
		}
		return errors.Wrapf(ErrIllegalTransition, "entry %s is %s, expected %s", id, state, from)
	}

	return nil
}

// LatestActiveSlot returns the most distant slot held by an active entry.
// ok is false when no active entries exist.
func (s *Store) LatestActiveSlot() (slot time.Time, ok bool, err error) {
	query := `
		SELECT MAX(scheduled_time)
		FROM schedule_entries
		WHERE state IN (?, ?)
	`

	var raw sql.NullString
	if err := s.db.QueryRow(query, StatePending, StateInProgress).Scan(&raw); err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to get latest active slot")
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}

	slot, err = time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to parse latest active slot")
	}
	return slot, true, nil
}

// SlotOccupied reports whether an active entry holds the given slot
func (s *Store) SlotOccupied(slot time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM schedule_entries
			WHERE scheduled_time = ? AND state IN (?, ?)
		)
	`

	var occupied bool
	err := s.db.QueryRow(query, slot.UTC().Format(time.RFC3339), StatePending, StateInProgress).Scan(&occupied)
	if err != nil {
		return false, errors.Wrap(err, "failed to check slot occupancy")
	}
	return occupied, nil
}

// ListByState returns entries in the given state, oldest slot first
func (s *Store) ListByState(state string, limit int) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule_entries
		WHERE state = ?
		ORDER BY scheduled_time ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, state, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// FailedForRecovery returns failed entries eligible for re-enqueue, oldest
// first. Entries at or past maxRounds recovery rounds need manual
// intervention and are excluded.
func (s *Store) FailedForRecovery(limit, maxRounds int) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule_entries
		WHERE state = ? AND recovery_rounds < ?
		ORDER BY scheduled_time ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, StateFailed, maxRounds, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failed entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// StaleInProgress returns entries stuck in in_progress since before the
// cutoff. A previous run that died mid-publish leaves these behind.
func (s *Store) StaleInProgress(cutoff time.Time) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM schedule_entries
		WHERE state = ? AND updated_at < ?
		ORDER BY updated_at ASC
	`

	rows, err := s.db.Query(query, StateInProgress, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale in-progress entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CountByState returns entry counts keyed by state
func (s *Store) CountByState() (map[string]int, error) {
	rows, err := s.db.Query("SELECT state, COUNT(*) FROM schedule_entries GROUP BY state")
	if err != nil {
		return nil, errors.Wrap(err, "failed to count entries")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan state count")
		}
		counts[state] = count
	}

	return counts, rows.Err()
}

// OutcomesSince returns terminal publish outcomes recorded at or after the
// cutoff: posted and failed counts. Skipped entries are operator decisions
// and do not count against publish health.
func (s *Store) OutcomesSince(cutoff time.Time) (posted, failed int, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM schedule_entries
		WHERE state IN (?, ?) AND updated_at >= ?
	`

	err = s.db.QueryRow(query,
		StatePosted, StateFailed,
		StatePosted, StateFailed,
		cutoff.UTC().Format(time.RFC3339),
	).Scan(&posted, &failed)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to count publish outcomes")
	}
	return posted, failed, nil
}

// Prune deletes terminal entries last touched before the cutoff and
// returns the number removed. Active entries are never pruned.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM schedule_entries
		WHERE state IN (?, ?, ?) AND updated_at < ?
	`

	result, err := s.db.Exec(query,
		StatePosted, StateFailed, StateSkipped,
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune entries")
	}

	return result.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var entry Entry
	var scheduledTime, createdAt, updatedAt string
	var lastError, externalPostID sql.NullString

	err := row.Scan(
		&entry.ID,
		&entry.ContentKey,
		&scheduledTime,
		&entry.State,
		&entry.AttemptCount,
		&entry.RecoveryRounds,
		&entry.Source,
		&entry.Payload,
		&lastError,
		&externalPostID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ScheduledTime, err = time.Parse(time.RFC3339, scheduledTime)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse scheduled_time for entry %s", entry.ID)
	}

	entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for entry %s", entry.ID)
	}

	entry.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for entry %s", entry.ID)
	}

	if lastError.Valid {
		entry.LastError = lastError.String
	}
	if externalPostID.Valid {
		entry.ExternalPostID = externalPostID.String
	}

	return &entry, nil
}
