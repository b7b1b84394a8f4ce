package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stepsync/internal/models"
)

func TestNewDailyStepState(t *testing.T) {
	s := models.NewDailyStepState("user-1", "2024-05-01")

	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, "2024-05-01", s.LastSyncDate)
	assert.Zero(t, s.StepsToday)
	assert.False(t, s.HasBaseline())
	assert.True(t, s.NeverSynced())
	assert.True(t, s.LastSync().IsZero())
}

func TestDailyStepState_Baseline(t *testing.T) {
	s := models.NewDailyStepState("user-1", "2024-05-01")
	assert.Zero(t, s.Baseline())

	s.SetBaseline(12000)
	assert.True(t, s.HasBaseline())
	assert.Equal(t, int64(12000), s.Baseline())

	// Zero is a valid baseline, distinct from unset.
	s.SetBaseline(0)
	assert.True(t, s.HasBaseline())
}

func TestDailyStepState_Clone(t *testing.T) {
	s := models.NewDailyStepState("user-1", "2024-05-01")
	s.SetBaseline(100)
	s.StepsToday = 5

	c := s.Clone()
	require.NotNil(t, c)
	assert.Equal(t, s, c)

	*c.InitialSensorValue = 999
	c.StepsToday = 7
	assert.Equal(t, int64(100), s.Baseline(), "clone must not share the baseline pointer")
	assert.Equal(t, int64(5), s.StepsToday)

	var nilState *models.DailyStepState
	assert.Nil(t, nilState.Clone())
}

func TestDailyStepState_LastSync(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &models.DailyStepState{UserID: "u", LastBackendSync: at.UnixMilli()}

	assert.False(t, s.NeverSynced())
	assert.True(t, at.Equal(s.LastSync()))
}

func TestDailyStepState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		state   models.DailyStepState
		wantErr bool
	}{
		{"valid", models.DailyStepState{UserID: "u", StepsToday: 3, LastSyncDate: "2024-05-01"}, false},
		{"missing user", models.DailyStepState{StepsToday: 3}, true},
		{"negative steps", models.DailyStepState{UserID: "u", StepsToday: -1}, true},
		{"bad date", models.DailyStepState{UserID: "u", LastSyncDate: "05/01/2024"}, true},
		{"negative sync", models.DailyStepState{UserID: "u", LastBackendSync: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidState)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	at := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC).In(loc)

	assert.Equal(t, "2024-05-02", models.DayOf(at))
}
