package schedule

import "github.com/hokuto/pressbeat/errors"

var (
	// ErrDuplicateContent indicates the content key already has an active entry
	ErrDuplicateContent = errors.New("content already has an active schedule entry")

	// ErrSlotCollision indicates the slot is already held by an active entry
	ErrSlotCollision = errors.New("slot already occupied")

	// ErrIllegalTransition indicates a state change the entry lifecycle forbids
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrEntryNotFound indicates the requested entry does not exist
	ErrEntryNotFound = errors.New("schedule entry not found")
)
