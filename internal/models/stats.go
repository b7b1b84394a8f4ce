package models

import (
	"fmt"
	"strings"
	"time"
)

// DailyStats is one day of activity as exchanged with the backend.
type DailyStats struct {
	Date          string  `json:"date"`
	Steps         int64   `json:"steps"`
	Calories      int64   `json:"calories"`
	Distance      float64 `json:"distance"` // kilometres
	ActiveMinutes int64   `json:"activeMinutes"`
}

// LogRequest is the body of POST /fitness/log.
type LogRequest struct {
	UserID        string  `json:"userId"`
	Date          string  `json:"date"`
	Steps         int64   `json:"steps"`
	Calories      int64   `json:"calories"`
	Distance      float64 `json:"distance"`
	ActiveMinutes int64   `json:"activeMinutes"`
}

// NewLogRequest builds a push body for userID.
func NewLogRequest(userID string, s DailyStats) LogRequest {
	return LogRequest{
		UserID:        userID,
		Date:          s.Date,
		Steps:         s.Steps,
		Calories:      s.Calories,
		Distance:      s.Distance,
		ActiveMinutes: s.ActiveMinutes,
	}
}

// LogResponse wraps the stored record returned by the backend.
type LogResponse struct {
	Success bool       `json:"success"`
	Data    DailyStats `json:"data"`
}

// StatsRange selects a stats window.
type StatsRange string

const (
	RangeWeek  StatsRange = "week"
	RangeMonth StatsRange = "month"
	RangeYear  StatsRange = "year"
)

// ParseStatsRange validates a range name.
func ParseStatsRange(s string) (StatsRange, error) {
	switch r := StatsRange(strings.ToLower(s)); r {
	case RangeWeek, RangeMonth, RangeYear:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRange, s)
}

// StatsReport is the GET /fitness/stats response.
type StatsReport struct {
	Period             string       `json:"period"`
	TotalSteps         int64        `json:"totalSteps"`
	TotalCalories      int64        `json:"totalCalories"`
	TotalDistance      float64      `json:"totalDistance"`
	TotalActiveMinutes int64        `json:"totalActiveMinutes"`
	AverageSteps       float64      `json:"averageSteps"`
	AverageCalories    float64      `json:"averageCalories"`
	Data               []DailyStats `json:"data"`
}

// Summary is the GET /fitness/summary response.
type Summary struct {
	TotalEntries       int64      `json:"totalEntries"`
	TotalSteps         int64      `json:"totalSteps"`
	TotalCalories      int64      `json:"totalCalories"`
	TotalDistance      float64    `json:"totalDistance"`
	TotalActiveMinutes int64      `json:"totalActiveMinutes"`
	LastUpdate         *time.Time `json:"lastUpdate"`
}

// NormalizeDate reduces a backend date (plain day or RFC 3339 instant) to a
// local calendar day. Instants are assumed to be local midnight as stored by
// a backend running in the client's time zone.
func NormalizeDate(s string) (string, error) {
	if _, err := time.Parse(DateFormat, s); err == nil {
		return s, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return DayOf(t.In(time.Local)), nil
}
