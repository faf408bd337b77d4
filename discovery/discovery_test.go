package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	pbtest "github.com/hokuto/pressbeat/internal/testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hokuto/pressbeat/schedule"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSourceDiscover(t *testing.T) {
	path := writeSource(t, `[
		{"content_key": "post-a", "payload": {"title": "A"}},
		{"content_key": "post-b", "payload": {"title": "B"}}
	]`)

	items, err := NewFileSource(path).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "post-a", items[0].ContentKey)
	assert.JSONEq(t, `{"title": "A"}`, string(items[0].Payload))
}

func TestFileSourceRejectsMissingContentKey(t *testing.T) {
	path := writeSource(t, `[{"payload": {"title": "A"}}]`)

	_, err := NewFileSource(path).Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_key")
}

func TestFileSourceRejectsMalformedJSON(t *testing.T) {
	path := writeSource(t, `not json`)

	_, err := NewFileSource(path).Discover(context.Background())
	assert.Error(t, err)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource("/nonexistent/items.json").Discover(context.Background())
	assert.Error(t, err)
}

func TestScheduleSteadyState(t *testing.T) {
	db := pbtest.CreateTestDB(t)
	store := schedule.NewStore(db)
	alloc := schedule.NewAllocator(store, 15*time.Minute, 2*time.Minute)

	now := time.Date(2026, 3, 14, 10, 7, 0, 0, time.UTC)
	items := []Item{
		{ContentKey: "post-a", Payload: []byte(`{"title":"A"}`)},
		{ContentKey: "post-b", Payload: []byte(`{"title":"B"}`)},
	}

	result, err := Schedule(alloc, items, now, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 0, result.Duplicates)

	pending, err := store.ListByState(schedule.StatePending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "post-a", pending[0].ContentKey)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC), pending[0].ScheduledTime.UTC())
	assert.Equal(t, time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC), pending[1].ScheduledTime.UTC())
}

func TestScheduleFrontLoad(t *testing.T) {
	db := pbtest.CreateTestDB(t)
	store := schedule.NewStore(db)
	alloc := schedule.NewAllocator(store, 15*time.Minute, 2*time.Minute)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	items := []Item{
		{ContentKey: "post-a", Payload: []byte(`{}`)},
		{ContentKey: "post-b", Payload: []byte(`{}`)},
		{ContentKey: "post-c", Payload: []byte(`{}`)},
	}

	result, err := Schedule(alloc, items, now, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Added)

	pending, err := store.ListByState(schedule.StatePending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 2, 0, 0, time.UTC), pending[0].ScheduledTime.UTC())
	assert.Equal(t, time.Date(2026, 3, 14, 10, 17, 0, 0, time.UTC), pending[1].ScheduledTime.UTC())
	assert.Equal(t, time.Date(2026, 3, 14, 10, 32, 0, 0, time.UTC), pending[2].ScheduledTime.UTC())
}

func TestScheduleSkipsDuplicates(t *testing.T) {
	db := pbtest.CreateTestDB(t)
	store := schedule.NewStore(db)
	alloc := schedule.NewAllocator(store, 15*time.Minute, 2*time.Minute)

	now := time.Date(2026, 3, 14, 10, 7, 0, 0, time.UTC)
	items := []Item{{ContentKey: "post-a", Payload: []byte(`{}`)}}

	result, err := Schedule(alloc, items, now, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	// Same item again is a duplicate while its entry is active
	result, err = Schedule(alloc, items, now, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 1, result.Duplicates)
}
