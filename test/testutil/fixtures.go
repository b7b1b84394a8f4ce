package testutil

import (
	"bytes"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/stepsync/internal/config"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// NewCapturingLogger returns a JSON logger whose entries land in the returned
// LogOutput.
func NewCapturingLogger() (*events.Logger, *LogOutput) {
	out := NewLogOutput()
	return events.NewTestLogger(events.DebugLevel, "json", out), out
}

// TestConfigWithDir creates a configuration rooted at dataDir.
func TestConfigWithDir(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dataDir
	cfg.Storage.StateDir = filepath.Join(dataDir, "state")
	cfg.Storage.SQLitePath = filepath.Join(dataDir, "state.db")
	cfg.Auth.TokenFile = filepath.Join(dataDir, "auth", "token.json")
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.API.RetryDelay = 10 * time.Millisecond
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	return cfg
}

// SampleState returns a state for userID on day with a counter baseline.
func SampleState(userID, day string, steps int64) *models.DailyStepState {
	st := models.NewDailyStepState(userID, day)
	st.StepsToday = steps
	st.SetBaseline(12000)
	return st
}

// SampleHistory returns n consecutive days ending at last, newest first.
func SampleHistory(last time.Time, n int) []models.DailyStats {
	out := make([]models.DailyStats, 0, n)
	for i := 0; i < n; i++ {
		steps := int64(4000 + 500*i)
		out = append(out, models.DailyStats{
			Date:          models.DayOf(last.AddDate(0, 0, -i)),
			Steps:         steps,
			Calories:      steps * 4 / 100,
			Distance:      float64(steps*762) / 1e6,
			ActiveMinutes: steps / 100,
		})
	}
	return out
}
