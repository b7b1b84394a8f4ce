package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stepsync/internal/metrics"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/tracker"
)

var _ tracker.Recorder = (*metrics.Collector)(nil)

func TestCollectorCounts(t *testing.T) {
	c := metrics.NewCollector("test")

	c.StepEvent("counter")
	c.StepEvent("counter")
	c.StepEvent("detector")
	c.StepsToday(450)
	c.PushCompleted("threshold", nil, 20*time.Millisecond)
	c.PushCompleted("interval", errors.New("boom"), time.Second)
	c.PushCompleted("manual", &models.APIError{StatusCode: 401}, time.Millisecond)
	c.PushDropped("threshold")
	c.PersistFailed()

	expected := `
# HELP test_sensor_events_total Sensor events received
# TYPE test_sensor_events_total counter
test_sensor_events_total{mode="counter"} 2
test_sensor_events_total{mode="detector"} 1
# HELP test_tracker_steps_today Steps counted for the current day
# TYPE test_tracker_steps_today gauge
test_tracker_steps_today 450
# HELP test_push_total Completed pushes to the fitness backend
# TYPE test_push_total counter
test_push_total{result="error",trigger="interval"} 1
test_push_total{result="success",trigger="threshold"} 1
test_push_total{result="unauthenticated",trigger="manual"} 1
# HELP test_push_dropped_total Push triggers skipped because a push was in flight
# TYPE test_push_dropped_total counter
test_push_dropped_total{trigger="threshold"} 1
# HELP test_state_persist_errors_total Failed writes of the local step state
# TYPE test_state_persist_errors_total counter
test_state_persist_errors_total 1
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"test_sensor_events_total",
		"test_tracker_steps_today",
		"test_push_total",
		"test_push_dropped_total",
		"test_state_persist_errors_total",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(c.Registry(), "test_push_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestLastPushTimestamp(t *testing.T) {
	c := metrics.NewCollector("")

	c.PushCompleted("first", errors.New("offline"), time.Millisecond)
	count, err := testutil.GatherAndCount(c.Registry(), "stepsync_push_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	before := float64(time.Now().Unix())
	c.PushCompleted("first", nil, time.Millisecond)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "stepsync_push_last_success_timestamp_seconds" {
			assert.GreaterOrEqual(t, mf.GetMetric()[0].GetGauge().GetValue(), before)
		}
	}
}

func TestHandler(t *testing.T) {
	c := metrics.NewCollector("stepsync")
	c.StepsToday(12)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stepsync_tracker_steps_today 12")
}
