package schedule

import "time"

// DefaultCadence is the interval between publication slots
const DefaultCadence = 15 * time.Minute

// AlignSlot rounds t up to the next slot boundary. A time already on a
// boundary is returned unchanged. Boundaries are multiples of the cadence
// from the Unix epoch, evaluated in UTC.
func AlignSlot(t time.Time, cadence time.Duration) time.Time {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	t = t.UTC().Truncate(time.Second)
	rem := time.Duration(t.Unix()%int64(cadence.Seconds())) * time.Second
	if rem == 0 {
		return t
	}
	return t.Add(cadence - rem)
}

// OnSlotBoundary reports whether t sits exactly on the cadence grid
func OnSlotBoundary(t time.Time, cadence time.Duration) bool {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return t.Unix()%int64(cadence.Seconds()) == 0 && t.Nanosecond() == 0
}
