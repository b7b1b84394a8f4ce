package tracker

import (
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/sensor"
)

// Rollover starts a new day when st belongs to a day other than today.
// It reports whether a reset happened.
func Rollover(st *models.DailyStepState, today string) bool {
	if st.LastSyncDate == today {
		return false
	}
	st.StepsToday = 0
	st.InitialSensorValue = nil
	st.LastSyncDate = today
	return true
}

// Apply folds one sensor event into st for the given day and reports whether
// st changed. The rollover check runs first.
//
// In counter mode the first reading of a day becomes the baseline and adds
// no steps. A reading below the baseline means the counter restarted; the
// baseline is moved so the steps already counted today are kept.
func Apply(st *models.DailyStepState, ev sensor.Event, today string) bool {
	changed := Rollover(st, today)

	switch ev.Mode {
	case sensor.ModeCounter:
		if !st.HasBaseline() {
			st.SetBaseline(ev.Total)
			return true
		}

		if ev.Total < st.Baseline() {
			st.SetBaseline(ev.Total - st.StepsToday)
			return true
		}

		steps := ev.Total - st.Baseline()
		if steps != st.StepsToday {
			st.StepsToday = steps
			changed = true
		}

	case sensor.ModeDetector:
		st.StepsToday++
		changed = true
	}

	return changed
}
