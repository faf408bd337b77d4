// Package discovery finds content waiting to be scheduled and feeds it
// into the publication schedule.
package discovery

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hokuto/pressbeat/errors"
	"github.com/hokuto/pressbeat/schedule"
)

// Item is one piece of discovered content
type Item struct {
	ContentKey string          `json:"content_key"`
	Payload    json.RawMessage `json:"payload"`
}

// Source produces content items to schedule
type Source interface {
	Discover(ctx context.Context) ([]Item, error)
}

// FileSource reads a JSON array of items from a file, or stdin when the
// path is "-".
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed discovery source
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Discover reads and validates the item list
func (s *FileSource) Discover(ctx context.Context) ([]Item, error) {
	var r io.Reader
	if s.path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(s.path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open discovery source %s", s.path)
		}
		defer f.Close()
		r = f
	}

	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, errors.Wrapf(err, "failed to decode discovery source %s", s.path)
	}

	for i, item := range items {
		if item.ContentKey == "" {
			return nil, errors.Newf("discovery item %d has no content_key", i)
		}
	}

	return items, nil
}

// ScheduleResult summarizes one scheduling pass
type ScheduleResult struct {
	Added      int
	Duplicates int
}

// Schedule enqueues discovered items in order. frontLoad compresses the
// first slots to shortly after now instead of extending the schedule tail.
// Items the schedule already holds an active entry for are counted as
// duplicates and skipped.
func Schedule(alloc *schedule.Allocator, items []Item, now time.Time, frontLoad bool, logger *zap.SugaredLogger) (*ScheduleResult, error) {
	result := &ScheduleResult{}

	for _, item := range items {
		source := schedule.SourceDiscovery
		if frontLoad {
			source = schedule.SourceFrontload
		}
		entry := &schedule.Entry{
			ID:         "ent_" + uuid.NewString(),
			ContentKey: item.ContentKey,
			Source:     source,
			Payload:    string(item.Payload),
		}

		var err error
		if frontLoad {
			err = alloc.EnqueueFrontLoad([]*schedule.Entry{entry}, now)
		} else {
			err = alloc.Enqueue(entry, now)
		}
		if err != nil {
			if errors.Is(err, schedule.ErrDuplicateContent) {
				result.Duplicates++
				if logger != nil {
					logger.Debugw("Skipping already-scheduled content",
						"content_key", item.ContentKey,
					)
				}
				continue
			}
			return result, err
		}

		result.Added++
		if logger != nil {
			logger.Infow("Scheduled content",
				"content_key", item.ContentKey,
				"slot", entry.ScheduledTime.Format(time.RFC3339),
				"front_load", frontLoad,
			)
		}
	}

	return result, nil
}
