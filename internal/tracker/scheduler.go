package tracker

import (
	"time"

	"github.com/TheMichaelB/stepsync/internal/models"
)

// Trigger names the reason a push was started.
type Trigger string

const (
	TriggerThreshold Trigger = "threshold"
	TriggerInterval  Trigger = "interval"
	TriggerFirst     Trigger = "first"
	TriggerStart     Trigger = "start"
	TriggerManual    Trigger = "manual"
)

// Scheduler decides when accumulated steps should be pushed.
type Scheduler struct {
	// Threshold fires a push each time the count crosses a multiple of it.
	Threshold int64
	// Interval is the longest a changed count may wait for a push.
	Interval time.Duration
	// StartGrace is how stale the last push may be before start forces one.
	StartGrace time.Duration
}

// DefaultScheduler returns the standard 50 steps / 5 minutes / 60 seconds policy.
func DefaultScheduler() Scheduler {
	return Scheduler{
		Threshold:  50,
		Interval:   5 * time.Minute,
		StartGrace: 60 * time.Second,
	}
}

// ShouldSync evaluates the push rules after an update moved the count from
// prev to cur. lastSync is epoch millis, 0 meaning never.
func (s Scheduler) ShouldSync(prev, cur, lastSync int64, now time.Time) (bool, Trigger) {
	if s.Threshold > 0 && cur != prev && cur > 0 && cur/s.Threshold > prev/s.Threshold {
		return true, TriggerThreshold
	}
	if lastSync == 0 {
		return true, TriggerFirst
	}
	if now.Sub(time.UnixMilli(lastSync)) >= s.Interval {
		return true, TriggerInterval
	}
	return false, ""
}

// ForceOnStart reports whether a freshly started tracker should push at once.
func (s Scheduler) ForceOnStart(st *models.DailyStepState, now time.Time) bool {
	if st.StepsToday <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(st.LastBackendSync)) > s.StartGrace
}
