package tracker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/sensor"
	"github.com/TheMichaelB/stepsync/internal/tracker"
)

const (
	today     = "2024-05-01"
	yesterday = "2024-04-30"
)

var at = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func counter(total int64) sensor.Event {
	return sensor.NewCounterEvent(total, at)
}

func step() sensor.Event {
	return sensor.NewStepEvent(at)
}

func TestApplyCounterBaseline(t *testing.T) {
	st := models.NewDailyStepState("user-1", today)

	assert.True(t, tracker.Apply(st, counter(12000), today))
	assert.Equal(t, int64(0), st.StepsToday)
	require.True(t, st.HasBaseline())
	assert.Equal(t, int64(12000), st.Baseline())

	assert.True(t, tracker.Apply(st, counter(12500), today))
	assert.Equal(t, int64(500), st.StepsToday)

	// Same reading again is a no-op.
	assert.False(t, tracker.Apply(st, counter(12500), today))
	assert.Equal(t, int64(500), st.StepsToday)
}

func TestApplyDetector(t *testing.T) {
	st := models.NewDailyStepState("user-1", today)

	for i := 0; i < 37; i++ {
		assert.True(t, tracker.Apply(st, step(), today))
	}
	assert.Equal(t, int64(37), st.StepsToday)
	assert.False(t, st.HasBaseline())
}

func TestApplyRollover(t *testing.T) {
	tests := []struct {
		name      string
		event     sensor.Event
		wantSteps int64
		baseline  bool
	}{
		{"detector counts the first step of the day", step(), 1, false},
		{"counter re-captures the baseline", counter(20000), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := models.NewDailyStepState("user-1", yesterday)
			st.StepsToday = 8421
			st.SetBaseline(3000)
			st.LastBackendSync = at.Add(-time.Hour).UnixMilli()

			assert.True(t, tracker.Apply(st, tt.event, today))
			assert.Equal(t, today, st.LastSyncDate)
			assert.Equal(t, tt.wantSteps, st.StepsToday)
			assert.Equal(t, tt.baseline, st.HasBaseline())
			if tt.baseline {
				assert.Equal(t, tt.event.Total, st.Baseline())
			}
			// Rollover does not forget the last push.
			assert.Equal(t, at.Add(-time.Hour).UnixMilli(), st.LastBackendSync)
		})
	}
}

func TestApplyCounterRestart(t *testing.T) {
	st := models.NewDailyStepState("user-1", today)
	tracker.Apply(st, counter(12000), today)
	tracker.Apply(st, counter(12500), today)

	// Device reboot: cumulative count starts over below the baseline.
	assert.True(t, tracker.Apply(st, counter(40), today))
	assert.Equal(t, int64(500), st.StepsToday)

	assert.True(t, tracker.Apply(st, counter(100), today))
	assert.Equal(t, int64(560), st.StepsToday)
}

func TestRollover(t *testing.T) {
	st := models.NewDailyStepState("user-1", today)
	st.StepsToday = 10
	assert.False(t, tracker.Rollover(st, today))
	assert.Equal(t, int64(10), st.StepsToday)

	assert.True(t, tracker.Rollover(st, "2024-05-02"))
	assert.Equal(t, int64(0), st.StepsToday)
	assert.Equal(t, "2024-05-02", st.LastSyncDate)
}
