// Package health derives publish health from recent schedule outcomes.
package health

import (
	"time"

	"github.com/hokuto/pressbeat/schedule"
)

// Monitor computes the publish success rate over a trailing window
type Monitor struct {
	store      *schedule.Store
	window     time.Duration
	threshold  float64
	minSamples int
}

// NewMonitor creates a health monitor. Zero values fall back to a 24 hour
// window, a 0.9 threshold, and 5 minimum samples.
func NewMonitor(store *schedule.Store, window time.Duration, threshold float64, minSamples int) *Monitor {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if threshold <= 0 {
		threshold = 0.9
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	return &Monitor{store: store, window: window, threshold: threshold, minSamples: minSamples}
}

// Report is one health check result
type Report struct {
	Posted      int
	Failed      int
	SuccessRate float64 // meaningless when Sufficient is false
	Sufficient  bool    // enough samples to judge
	Degraded    bool
}

// Check computes publish health over the trailing window ending at now.
// With fewer than the minimum samples the report is never degraded: a
// freshly bootstrapped schedule should not page anyone.
func (m *Monitor) Check(now time.Time) (*Report, error) {
	posted, failed, err := m.store.OutcomesSince(now.Add(-m.window))
	if err != nil {
		return nil, err
	}

	report := &Report{Posted: posted, Failed: failed}
	total := posted + failed
	if total < m.minSamples {
		return report, nil
	}

	report.Sufficient = true
	report.SuccessRate = float64(posted) / float64(total)
	report.Degraded = report.SuccessRate < m.threshold
	return report, nil
}
