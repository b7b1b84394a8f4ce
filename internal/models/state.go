package models

import (
	"fmt"
	"time"
)

// DateFormat is the calendar day layout used for state and the backend.
const DateFormat = "2006-01-02"

// DailyStepState is the per-user step record for one calendar day.
type DailyStepState struct {
	UserID             string `json:"user_id"`
	StepsToday         int64  `json:"steps_today"`
	InitialSensorValue *int64 `json:"initial_sensor_value"`
	LastSyncDate       string `json:"last_sync_date"`
	LastBackendSync    int64  `json:"last_backend_sync"` // epoch millis, 0 = never
}

// NewDailyStepState creates an empty state for userID on day.
func NewDailyStepState(userID, day string) *DailyStepState {
	return &DailyStepState{
		UserID:       userID,
		LastSyncDate: day,
	}
}

// DayOf formats t as a calendar day in t's location.
func DayOf(t time.Time) string {
	return t.Format(DateFormat)
}

// HasBaseline reports whether a counter baseline is recorded.
func (s *DailyStepState) HasBaseline() bool {
	return s.InitialSensorValue != nil
}

// SetBaseline records the counter reading that maps to zero steps.
func (s *DailyStepState) SetBaseline(total int64) {
	v := total
	s.InitialSensorValue = &v
}

// Baseline returns the recorded baseline, or 0 when unset.
func (s *DailyStepState) Baseline() int64 {
	if s.InitialSensorValue == nil {
		return 0
	}
	return *s.InitialSensorValue
}

// NeverSynced reports whether no push has succeeded yet.
func (s *DailyStepState) NeverSynced() bool {
	return s.LastBackendSync == 0
}

// LastSync returns the last successful push time.
func (s *DailyStepState) LastSync() time.Time {
	if s.LastBackendSync == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastBackendSync)
}

// Clone returns a deep copy.
func (s *DailyStepState) Clone() *DailyStepState {
	if s == nil {
		return nil
	}
	c := *s
	if s.InitialSensorValue != nil {
		c.SetBaseline(*s.InitialSensorValue)
	}
	return &c
}

// Validate checks the stored invariants.
func (s *DailyStepState) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidState)
	}
	if s.StepsToday < 0 {
		return fmt.Errorf("%w: negative steps %d", ErrInvalidState, s.StepsToday)
	}
	if s.LastSyncDate != "" {
		if _, err := time.Parse(DateFormat, s.LastSyncDate); err != nil {
			return fmt.Errorf("%w: bad date %q", ErrInvalidState, s.LastSyncDate)
		}
	}
	if s.LastBackendSync < 0 {
		return fmt.Errorf("%w: negative sync time", ErrInvalidState)
	}
	return nil
}
