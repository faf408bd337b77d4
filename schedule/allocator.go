package schedule

import (
	"time"

	"github.com/hokuto/pressbeat/errors"
)

// Allocator assigns publication slots.
//
// Steady-state allocation extends the schedule tail: the next slot is one
// cadence past the latest active entry, never earlier than one cadence past
// the next grid boundary. Front-load allocation compresses the wait when the schedule is
// empty or being rebuilt: the first slot lands a short lead after now, and
// later slots follow at cadence intervals, probing past any occupied slot.
type Allocator struct {
	store   *Store
	cadence time.Duration
	lead    time.Duration
}

// NewAllocator creates a slot allocator. Zero cadence and lead fall back to
// 15 minutes and 2 minutes.
func NewAllocator(store *Store, cadence, lead time.Duration) *Allocator {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	if lead <= 0 {
		lead = 2 * time.Minute
	}
	return &Allocator{store: store, cadence: cadence, lead: lead}
}

// Next returns the steady-state slot for one new entry.
// The floor is one full cadence past the next grid boundary, so a slot
// whose time already passed is never assigned.
func (a *Allocator) Next(now time.Time) (time.Time, error) {
	candidate := AlignSlot(now, a.cadence).Add(a.cadence)

	tail, ok, err := a.store.LatestActiveSlot()
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		afterTail := tail.Add(a.cadence)
		if afterTail.After(candidate) {
			candidate = afterTail
		}
	}

	// The tail computation leaves the candidate free unless a terminal entry
	// was requeued into it concurrently; probe forward to be sure.
	for {
		occupied, err := a.store.SlotOccupied(candidate)
		if err != nil {
			return time.Time{}, err
		}
		if !occupied {
			return candidate, nil
		}
		candidate = candidate.Add(a.cadence)
	}
}

// FrontLoad returns k slots starting a short lead after now, spaced one
// cadence apart, skipping past occupied slots in order.
func (a *Allocator) FrontLoad(now time.Time, k int) ([]time.Time, error) {
	if k <= 0 {
		return nil, nil
	}

	slots := make([]time.Time, 0, k)
	candidate := now.UTC().Truncate(time.Second).Add(a.lead)
	for len(slots) < k {
		occupied, err := a.store.SlotOccupied(candidate)
		if err != nil {
			return nil, err
		}
		if !occupied {
			slots = append(slots, candidate)
		}
		candidate = candidate.Add(a.cadence)
	}

	return slots, nil
}

// Enqueue assigns the steady-state slot to the entry and persists it.
// A collision with a concurrent writer advances one cadence and retries.
func (a *Allocator) Enqueue(entry *Entry, now time.Time) error {
	slot, err := a.Next(now)
	if err != nil {
		return err
	}

	for {
		entry.ScheduledTime = slot
		entry.State = StatePending
		err := a.store.Put(entry)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSlotCollision) {
			return err
		}
		slot = slot.Add(a.cadence)
	}
}

// EnqueueFrontLoad assigns front-loaded slots to the entries in order and
// persists them. Entries keep their given order: the first entry gets the
// earliest slot.
func (a *Allocator) EnqueueFrontLoad(entries []*Entry, now time.Time) error {
	slots, err := a.FrontLoad(now, len(entries))
	if err != nil {
		return err
	}

	for i, entry := range entries {
		entry.ScheduledTime = slots[i]
		entry.State = StatePending
		if err := a.store.Put(entry); err != nil {
			return err
		}
	}

	return nil
}
