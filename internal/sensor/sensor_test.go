package sensor_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/sensor"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "json", &bytes.Buffer{})
}

func collect(t *testing.T, ch <-chan sensor.Event) []sensor.Event {
	t.Helper()
	var out []sensor.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func TestChooseMode(t *testing.T) {
	both := sensor.Capabilities{Counter: true, Detector: true}
	counterOnly := sensor.Capabilities{Counter: true}
	detectorOnly := sensor.Capabilities{Detector: true}
	none := sensor.Capabilities{}

	tests := []struct {
		name      string
		caps      sensor.Capabilities
		preferred string
		want      sensor.Mode
		wantErr   bool
	}{
		{"auto prefers counter", both, "auto", sensor.ModeCounter, false},
		{"empty means auto", both, "", sensor.ModeCounter, false},
		{"auto falls back to detector", detectorOnly, "auto", sensor.ModeDetector, false},
		{"auto with nothing", none, "auto", sensor.ModeNone, true},
		{"forced detector", both, "detector", sensor.ModeDetector, false},
		{"forced counter missing", detectorOnly, "counter", sensor.ModeNone, true},
		{"forced detector missing", counterOnly, "detector", sensor.ModeNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sensor.ChooseMode(tt.caps, tt.preferred)
			if tt.wantErr {
				assert.ErrorIs(t, err, sensor.ErrSensorUnavailable)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := sensor.ChooseMode(both, "gyro")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, sensor.ErrSensorUnavailable)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "counter", sensor.ModeCounter.String())
	assert.Equal(t, "detector", sensor.ModeDetector.String())
	assert.Equal(t, "none", sensor.ModeNone.String())
}

func TestReplaySourceCounter(t *testing.T) {
	script := `
# boot
counter 12000
step
counter 12010
counter 12500
`
	src, err := sensor.NewReplaySource(strings.NewReader(script), clock.RealClock{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, sensor.Capabilities{Counter: true, Detector: true}, src.Capabilities())

	stream, err := src.Start(context.Background(), "auto")
	require.NoError(t, err)
	assert.Equal(t, sensor.ModeCounter, stream.Mode)

	got := collect(t, stream.Events)
	require.Len(t, got, 3)
	assert.Equal(t, int64(12000), got[0].Total)
	assert.Equal(t, int64(12500), got[2].Total)
	for _, ev := range got {
		assert.Equal(t, sensor.ModeCounter, ev.Mode)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestReplaySourceDetector(t *testing.T) {
	src, err := sensor.NewReplaySource(strings.NewReader("step\nwait 1ms\nstep\nstep\n"), clock.RealClock{}, testLogger())
	require.NoError(t, err)

	stream, err := src.Start(context.Background(), "auto")
	require.NoError(t, err)
	assert.Equal(t, sensor.ModeDetector, stream.Mode)
	assert.Len(t, collect(t, stream.Events), 3)
}

func TestReplaySourceNoSensor(t *testing.T) {
	src, err := sensor.NewReplaySource(strings.NewReader("# nothing here\nwait 1ms\n"), clock.RealClock{}, testLogger())
	require.NoError(t, err)

	_, err = src.Start(context.Background(), "auto")
	assert.ErrorIs(t, err, sensor.ErrSensorUnavailable)
}

func TestReplaySourceParseErrors(t *testing.T) {
	for _, script := range []string{
		"counter",
		"counter abc",
		"counter -5",
		"wait forever",
		"jump 3",
	} {
		_, err := sensor.NewReplaySource(strings.NewReader(script), clock.RealClock{}, testLogger())
		assert.Error(t, err, script)
	}
}

func TestReplaySourceCancel(t *testing.T) {
	src, err := sensor.NewReplaySource(strings.NewReader("step\nwait 1h\nstep\n"), clock.RealClock{}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := src.Start(ctx, "detector")
	require.NoError(t, err)

	<-stream.Events
	cancel()

	assert.Empty(t, collect(t, stream.Events))
}

// bridgeServer speaks the bridge protocol and sends readings after subscribe.
func bridgeServer(t *testing.T, hello sensor.BridgeMessage, readings []sensor.BridgeMessage, subscribed chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(hello); err != nil {
			return
		}

		var sub sensor.BridgeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Mode

		for _, m := range readings {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))

		// Drain until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestBridgeSourceCounter(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := bridgeServer(t,
		sensor.BridgeMessage{Type: sensor.MsgHello, Counter: true, Detector: true},
		[]sensor.BridgeMessage{
			{Type: sensor.MsgReading, Kind: "counter", Total: 12000},
			{Type: sensor.MsgReading, Kind: "step"},
			{Type: "status"},
			{Type: sensor.MsgReading, Kind: "counter", Total: 12050, TS: 1714550400000},
		},
		subscribed,
	)
	defer srv.Close()

	src := sensor.NewBridgeSource(srv.URL, "tok", clock.RealClock{}, testLogger())
	defer src.Close()

	stream, err := src.Start(context.Background(), "auto")
	require.NoError(t, err)
	assert.Equal(t, sensor.ModeCounter, stream.Mode)
	assert.Equal(t, "counter", <-subscribed)

	got := collect(t, stream.Events)
	require.Len(t, got, 2)
	assert.Equal(t, int64(12000), got[0].Total)
	assert.Equal(t, int64(12050), got[1].Total)
	assert.Equal(t, int64(1714550400000), got[1].At.UnixMilli())
}

func TestBridgeSourceNoSensor(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := bridgeServer(t, sensor.BridgeMessage{Type: sensor.MsgHello}, nil, subscribed)
	defer srv.Close()

	src := sensor.NewBridgeSource(srv.URL, "", clock.RealClock{}, testLogger())
	defer src.Close()

	_, err := src.Start(context.Background(), "auto")
	assert.ErrorIs(t, err, sensor.ErrSensorUnavailable)
}

func TestBridgeSourceDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := sensor.NewBridgeSource(srv.URL, "", clock.RealClock{}, testLogger())
	_, err := src.Start(context.Background(), "auto")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}
