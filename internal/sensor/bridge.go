package sensor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/events"
)

// Bridge message types.
const (
	MsgHello     = "hello"
	MsgSubscribe = "subscribe"
	MsgReading   = "reading"
)

// BridgeMessage is the JSON frame exchanged with a device bridge.
//
// The bridge opens with a hello listing its capabilities; the client answers
// with a subscribe naming the chosen mode; the bridge then streams readings.
type BridgeMessage struct {
	Type     string `json:"type"`
	Counter  bool   `json:"counter,omitempty"`
	Detector bool   `json:"detector,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Kind     string `json:"kind,omitempty"`  // "counter" or "step"
	Total    int64  `json:"total,omitempty"` // counter readings only
	TS       int64  `json:"ts,omitempty"`    // epoch millis, optional
}

// BridgeSource reads step events from a device bridge over WebSocket.
type BridgeSource struct {
	url    string
	token  string
	clock  clock.Clock
	logger *events.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}

	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewBridgeSource creates a bridge client for url (ws, wss, http or https).
func NewBridgeSource(url, token string, clk clock.Clock, logger *events.Logger) *BridgeSource {
	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}

	return &BridgeSource{
		url:          url,
		token:        token,
		clock:        clk,
		logger:       logger.WithField("component", "sensor_bridge"),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Start connects, negotiates a mode and begins streaming.
func (b *BridgeSource) Start(ctx context.Context, preferred string) (*Stream, error) {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("already connected")
	}
	b.mu.Unlock()

	b.logger.WithField("url", b.url).Info("Connecting to sensor bridge")

	headers := http.Header{}
	if b.token != "" {
		headers.Set("Authorization", "Bearer "+b.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, b.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("bridge connect failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(b.pongTimeout))
	var hello BridgeMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read bridge hello: %w", err)
	}
	if hello.Type != MsgHello {
		conn.Close()
		return nil, fmt.Errorf("expected hello, got %q", hello.Type)
	}

	mode, err := ChooseMode(Capabilities{Counter: hello.Counter, Detector: hello.Detector}, preferred)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.WriteJSON(BridgeMessage{Type: MsgSubscribe, Mode: mode.String()}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	out := make(chan Event, 64)
	go b.readLoop(ctx, conn, mode, out)
	go b.pingLoop(conn)

	b.logger.WithField("mode", mode.String()).Info("Sensor bridge connected")
	return &Stream{Mode: mode, Events: out}, nil
}

// Close closes the bridge connection.
func (b *BridgeSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	if b.conn != nil {
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err := b.conn.Close()
		b.conn = nil
		return err
	}

	return nil
}

func (b *BridgeSource) readLoop(ctx context.Context, conn *websocket.Conn, mode Mode, out chan<- Event) {
	defer func() {
		b.Close()
		close(out)
	}()

	// Unblocks ReadJSON when the caller cancels.
	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-b.done:
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.pongTimeout + b.pingInterval))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(b.pongTimeout + b.pingInterval))

		var msg BridgeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.WithError(err).Error("Bridge read error")
			}
			return
		}

		ev, ok := b.toEvent(msg, mode)
		if !ok {
			b.logger.WithFields(map[string]interface{}{
				"type": msg.Type,
				"kind": msg.Kind,
			}).Debug("Ignoring bridge message")
			continue
		}

		select {
		case out <- ev:
		case <-b.done:
			return
		}
	}
}

func (b *BridgeSource) toEvent(msg BridgeMessage, mode Mode) (Event, bool) {
	if msg.Type != MsgReading {
		return Event{}, false
	}

	at := b.clock.Now()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS)
	}

	switch {
	case msg.Kind == "counter" && mode == ModeCounter && msg.Total >= 0:
		return NewCounterEvent(msg.Total, at), true
	case msg.Kind == "step" && mode == ModeDetector:
		return NewStepEvent(at), true
	}
	return Event{}, false
}

func (b *BridgeSource) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(b.pongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				b.logger.WithError(err).Debug("Ping failed")
				return
			}
		case <-b.done:
			return
		}
	}
}
