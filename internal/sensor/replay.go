package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/events"
)

// ReplaySource plays back a recorded or scripted reading log. Each line is one
// of:
//
//	counter <total>
//	step
//	wait <duration>
//
// Blank lines and lines starting with '#' are ignored. Capabilities are the
// reading kinds present in the log.
type ReplaySource struct {
	lines  []replayLine
	caps   Capabilities
	clock  clock.Clock
	logger *events.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type replayLine struct {
	mode  Mode
	total int64
	wait  time.Duration
}

// NewReplaySource parses r eagerly so format errors surface before Start.
func NewReplaySource(r io.Reader, clk clock.Clock, logger *events.Logger) (*ReplaySource, error) {
	src := &ReplaySource{
		clock:  clk,
		logger: logger.WithField("component", "replay_source"),
		sleep:  sleepCtx,
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "counter":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: counter needs a total", lineNo)
			}
			total, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || total < 0 {
				return nil, fmt.Errorf("line %d: bad counter total %q", lineNo, fields[1])
			}
			src.lines = append(src.lines, replayLine{mode: ModeCounter, total: total})
			src.caps.Counter = true
		case "step":
			src.lines = append(src.lines, replayLine{mode: ModeDetector})
			src.caps.Detector = true
		case "wait":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: wait needs a duration", lineNo)
			}
			d, err := time.ParseDuration(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			src.lines = append(src.lines, replayLine{wait: d})
		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}

	return src, nil
}

// Capabilities reports which reading kinds the log contains.
func (s *ReplaySource) Capabilities() Capabilities {
	return s.caps
}

// Start delivers readings of the chosen mode in order. Readings of the other
// kind are skipped, as an unregistered sensor would never report them.
func (s *ReplaySource) Start(ctx context.Context, preferred string) (*Stream, error) {
	mode, err := ChooseMode(s.caps, preferred)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)

		sent := 0
		for _, l := range s.lines {
			if l.wait > 0 {
				if err := s.sleep(ctx, l.wait); err != nil {
					return
				}
				continue
			}
			if l.mode != mode {
				continue
			}

			var ev Event
			if mode == ModeCounter {
				ev = NewCounterEvent(l.total, s.clock.Now())
			} else {
				ev = NewStepEvent(s.clock.Now())
			}

			select {
			case out <- ev:
				sent++
			case <-ctx.Done():
				return
			}
		}

		s.logger.WithFields(map[string]interface{}{
			"mode":   mode.String(),
			"events": sent,
		}).Debug("Replay finished")
	}()

	return &Stream{Mode: mode, Events: out}, nil
}

// Close releases the source.
func (s *ReplaySource) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
