package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	pbtest "github.com/hokuto/pressbeat/internal/testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hokuto/pressbeat/publish"
	"github.com/hokuto/pressbeat/runlock"
	"github.com/hokuto/pressbeat/schedule"
)

// fakePublisher replays a scripted sequence of outcomes
type fakePublisher struct {
	script   []error // nil means success
	calls    int
	requests []*publish.Request
}

func (f *fakePublisher) Publish(ctx context.Context, req *publish.Request) (*publish.Result, error) {
	f.requests = append(f.requests, req)
	var err error
	if f.calls < len(f.script) {
		err = f.script[f.calls]
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	return &publish.Result{ExternalPostID: "cms-ok"}, nil
}

func (f *fakePublisher) Ping(ctx context.Context) error {
	return nil
}

// neverAlive treats every recorded lock holder as dead
type neverAlive struct{}

func (neverAlive) Alive(pid int) (bool, error) { return false, nil }

// alwaysAlive treats every recorded lock holder as live
type alwaysAlive struct{}

func (alwaysAlive) Alive(pid int) (bool, error) { return true, nil }

type testRig struct {
	store    *schedule.Store
	alloc    *schedule.Allocator
	pub      *fakePublisher
	executor *Executor
	lockPath string
}

func newRig(t *testing.T, pub *fakePublisher) *testRig {
	t.Helper()
	db := pbtest.CreateTestDB(t)
	store := schedule.NewStore(db)
	alloc := schedule.NewAllocator(store, 15*time.Minute, 2*time.Minute)
	sweeper := NewSweeper(store, alloc, 3, 2, nil)
	lockPath := filepath.Join(t.TempDir(), "run.lock")
	lock := runlock.NewWithProber(lockPath, neverAlive{}, nil)

	return &testRig{
		store:    store,
		alloc:    alloc,
		pub:      pub,
		executor: New(store, sweeper, pub, lock, 3, 5*time.Minute, nil),
		lockPath: lockPath,
	}
}

func (r *testRig) putDue(t *testing.T, id, contentKey string, slot time.Time) {
	t.Helper()
	require.NoError(t, r.store.Put(&schedule.Entry{
		ID:            id,
		ContentKey:    contentKey,
		ScheduledTime: slot,
		State:         schedule.StatePending,
		Source:        schedule.SourceDiscovery,
		Payload:       `{"title":"` + contentKey + `"}`,
	}))
}

func TestRunOncePublishesDueEntry(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-time.Minute))

	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Posted)
	assert.False(t, report.LockHeld)

	entry, err := rig.store.Get("ent_1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePosted, entry.State)
	assert.Equal(t, "cms-ok", entry.ExternalPostID)
	assert.Equal(t, 1, entry.AttemptCount)

	// Payload went out as stored
	require.Len(t, rig.pub.requests, 1)
	assert.Equal(t, `{"title":"post-a"}`, rig.pub.requests[0].Payload)
}

func TestRunOnceProcessesOneSlotOnly(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-30*time.Minute))
	rig.putDue(t, "ent_2", "post-b", now.Add(-15*time.Minute))

	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	// The earlier slot went first, the later one waits for the next run
	first, err := rig.store.Get("ent_1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePosted, first.State)

	second, err := rig.store.Get("ent_2")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePending, second.State)
}

func TestRunOnceNothingDue(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(time.Hour))

	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
	assert.Zero(t, rig.pub.calls)
}

func TestRunOnceLockHeldIsNoop(t *testing.T) {
	db := pbtest.CreateTestDB(t)
	store := schedule.NewStore(db)
	alloc := schedule.NewAllocator(store, 15*time.Minute, 2*time.Minute)
	pub := &fakePublisher{}

	lockPath := filepath.Join(t.TempDir(), "run.lock")
	holder := runlock.NewWithProber(lockPath, alwaysAlive{}, nil)
	require.NoError(t, holder.Acquire())

	lock := runlock.NewWithProber(lockPath, alwaysAlive{}, nil)
	exec := New(store, NewSweeper(store, alloc, 3, 2, nil), pub, lock, 3, 5*time.Minute, nil)

	now := time.Now().UTC()
	require.NoError(t, store.Put(&schedule.Entry{
		ID:            "ent_1",
		ContentKey:    "post-a",
		ScheduledTime: now.Add(-time.Minute),
		State:         schedule.StatePending,
	}))

	report, err := exec.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, report.LockHeld)
	assert.Equal(t, 0, report.Processed)
	assert.Zero(t, pub.calls)

	// The due entry is untouched
	entry, err := store.Get("ent_1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePending, entry.State)
}

func TestTransientFailureRetriesUntilCeiling(t *testing.T) {
	pub := &fakePublisher{script: []error{
		publish.NewError(publish.KindTransient, "connection reset", nil),
		publish.NewError(publish.KindTransient, "connection reset", nil),
		publish.NewError(publish.KindTransient, "connection reset", nil),
	}}
	rig := newRig(t, pub)
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-time.Minute))

	// First two attempts release the entry back to pending
	for i := 1; i <= 2; i++ {
		report, err := rig.executor.RunOnce(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Retried)

		entry, err := rig.store.Get("ent_1")
		require.NoError(t, err)
		assert.Equal(t, schedule.StatePending, entry.State)
		assert.Equal(t, i, entry.AttemptCount)
	}

	// Third attempt hits the ceiling
	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	entry, err := rig.store.Get("ent_1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StateFailed, entry.State)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Contains(t, entry.LastError, "connection reset")
}

func TestAuthFailureFailsImmediately(t *testing.T) {
	pub := &fakePublisher{script: []error{
		publish.NewError(publish.KindAuth, "401 unauthorized", nil),
	}}
	rig := newRig(t, pub)
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-time.Minute))

	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	entry, err := rig.store.Get("ent_1")
	require.NoError(t, err)
	assert.Equal(t, schedule.StateFailed, entry.State)
	assert.Equal(t, 1, entry.AttemptCount)
}

func TestValidationFailureFailsImmediately(t *testing.T) {
	pub := &fakePublisher{script: []error{
		publish.NewError(publish.KindValidation, "422 unprocessable", nil),
	}}
	rig := newRig(t, pub)
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-time.Minute))

	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, pub.calls)
}

func TestCatchUpProcessesMultipleSlots(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-45*time.Minute))
	rig.putDue(t, "ent_2", "post-b", now.Add(-30*time.Minute))
	rig.putDue(t, "ent_3", "post-c", now.Add(-15*time.Minute))

	report, err := rig.executor.CatchUp(context.Background(), now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Posted)

	// The third entry stays for the next run
	entry, err := rig.store.Get("ent_3")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePending, entry.State)
}

func TestCatchUpStopsAfterRetry(t *testing.T) {
	pub := &fakePublisher{script: []error{
		publish.NewError(publish.KindTransient, "connection reset", nil),
	}}
	rig := newRig(t, pub)
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-30*time.Minute))
	rig.putDue(t, "ent_2", "post-b", now.Add(-15*time.Minute))

	// The retried entry is still the next due slot; continuing would burn
	// its remaining attempts in a single run
	report, err := rig.executor.CatchUp(context.Background(), now, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, pub.calls)
}

func TestCatchUpStopsAfterFatalFailure(t *testing.T) {
	pub := &fakePublisher{script: []error{
		publish.NewError(publish.KindAuth, "401 unauthorized", nil),
		publish.NewError(publish.KindAuth, "401 unauthorized", nil),
	}}
	rig := newRig(t, pub)
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-30*time.Minute))
	rig.putDue(t, "ent_2", "post-b", now.Add(-15*time.Minute))

	// A credentials outage must not fail the whole backlog in one run
	report, err := rig.executor.CatchUp(context.Background(), now, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, pub.calls)

	second, err := rig.store.Get("ent_2")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePending, second.State)
}

func TestRunRecoversFailedEntries(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()

	// One failed entry from an earlier run
	rig.putDue(t, "ent_failed", "post-failed", now.Add(-2*time.Hour))
	require.NoError(t, rig.store.Claim("ent_failed"))
	require.NoError(t, rig.store.MarkFailed("ent_failed", "boom"))

	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)

	// Re-enqueued at a front-loaded slot two minutes out, so not yet due
	entry, err := rig.store.Get("ent_failed")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePending, entry.State)
	assert.Equal(t, 1, entry.RecoveryRounds)
	assert.True(t, entry.ScheduledTime.After(now))
	assert.Equal(t, 0, report.Processed)
}

func TestRunResetsOrphanedEntries(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()

	rig.putDue(t, "ent_orphan", "post-orphan", now.Add(-time.Hour))
	require.NoError(t, rig.store.Claim("ent_orphan"))

	// A later run sees the entry stuck in_progress well past the publish
	// timeout and takes it over
	later := now.Add(20 * time.Minute)
	report, err := rig.executor.RunOnce(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reset)
	assert.Equal(t, 1, report.Posted)

	entry, err := rig.store.Get("ent_orphan")
	require.NoError(t, err)
	assert.Equal(t, schedule.StatePosted, entry.State)
	// Claim from the dead run plus the takeover claim
	assert.Equal(t, 2, entry.AttemptCount)
}

func TestRunFailsOrphanWithSpentBudget(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()

	rig.putDue(t, "ent_orphan", "post-orphan", now.Add(-time.Hour))
	// Burn the attempt budget: claim, release, claim, release, claim, die
	require.NoError(t, rig.store.Claim("ent_orphan"))
	require.NoError(t, rig.store.ReleaseForRetry("ent_orphan", "x"))
	require.NoError(t, rig.store.Claim("ent_orphan"))
	require.NoError(t, rig.store.ReleaseForRetry("ent_orphan", "x"))
	require.NoError(t, rig.store.Claim("ent_orphan"))

	later := now.Add(20 * time.Minute)
	report, err := rig.executor.RunOnce(context.Background(), later)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reset)

	entry, err := rig.store.Get("ent_orphan")
	require.NoError(t, err)
	assert.Equal(t, schedule.StateFailed, entry.State)
	assert.Contains(t, entry.LastError, "abandoned")
}

func TestRunReleasesLockAfterwards(t *testing.T) {
	rig := newRig(t, &fakePublisher{})
	now := time.Now().UTC()
	rig.putDue(t, "ent_1", "post-a", now.Add(-time.Minute))

	_, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)

	// A second run acquires the lock cleanly
	report, err := rig.executor.RunOnce(context.Background(), now)
	require.NoError(t, err)
	assert.False(t, report.LockHeld)
}
