// Package sensor turns hardware step readings into an ordered event stream.
//
// Two kinds of hardware are supported. A step counter reports a cumulative
// total since device boot; a step detector reports one event per step. When
// both exist the counter is used.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSensorUnavailable means neither a counter nor a detector is present.
var ErrSensorUnavailable = errors.New("step sensor unavailable")

// Mode identifies which hardware an event came from.
type Mode int

const (
	ModeNone Mode = iota
	ModeCounter
	ModeDetector
)

func (m Mode) String() string {
	switch m {
	case ModeCounter:
		return "counter"
	case ModeDetector:
		return "detector"
	default:
		return "none"
	}
}

// Event is a single sensor reading.
type Event struct {
	ID   string
	Mode Mode
	// Total is the cumulative count since boot. Unused in detector mode.
	Total int64
	At    time.Time
}

// NewCounterEvent builds a counter reading.
func NewCounterEvent(total int64, at time.Time) Event {
	return Event{ID: uuid.NewString(), Mode: ModeCounter, Total: total, At: at}
}

// NewStepEvent builds a detector step.
func NewStepEvent(at time.Time) Event {
	return Event{ID: uuid.NewString(), Mode: ModeDetector, At: at}
}

// Capabilities lists the hardware a source can provide.
type Capabilities struct {
	Counter  bool `json:"counter"`
	Detector bool `json:"detector"`
}

// ChooseMode picks the sensor mode. preferred is "auto", "counter" or
// "detector"; auto prefers the counter.
func ChooseMode(caps Capabilities, preferred string) (Mode, error) {
	switch preferred {
	case "", "auto":
		switch {
		case caps.Counter:
			return ModeCounter, nil
		case caps.Detector:
			return ModeDetector, nil
		}
		return ModeNone, ErrSensorUnavailable
	case "counter":
		if caps.Counter {
			return ModeCounter, nil
		}
		return ModeNone, fmt.Errorf("%w: no step counter", ErrSensorUnavailable)
	case "detector":
		if caps.Detector {
			return ModeDetector, nil
		}
		return ModeNone, fmt.Errorf("%w: no step detector", ErrSensorUnavailable)
	}
	return ModeNone, fmt.Errorf("unknown sensor mode %q", preferred)
}

// Stream is an opened source delivering events of a single mode. Events is
// closed when the source ends or its context is cancelled.
type Stream struct {
	Mode   Mode
	Events <-chan Event
}

// Source opens a step event stream.
type Source interface {
	// Start probes capabilities, picks a mode and begins delivery.
	// It returns ErrSensorUnavailable when no usable hardware exists.
	Start(ctx context.Context, preferred string) (*Stream, error)

	// Close releases the source.
	Close() error
}
