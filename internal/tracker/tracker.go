// Package tracker owns the per-user daily step state: it applies sensor
// events, persists every change, and schedules pushes to the backend.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/estimate"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/sensor"
	"github.com/TheMichaelB/stepsync/internal/state"
)

// Errors
var (
	ErrAlreadyRunning = errors.New("tracker already running")
	ErrNotRunning     = errors.New("tracker not running")
)

// Pusher uploads one day's stats. It must be idempotent per (user, date).
type Pusher interface {
	Push(ctx context.Context, stats models.DailyStats) error
}

// Recorder receives tracker measurements.
type Recorder interface {
	StepEvent(mode string)
	StepsToday(steps int64)
	PushCompleted(trigger string, err error, elapsed time.Duration)
	PushDropped(trigger string)
	PersistFailed()
}

// Config holds tracker settings.
type Config struct {
	UserID      string
	Scheduler   Scheduler
	PushTimeout time.Duration
	// TickInterval is how often the day is re-checked while no events arrive.
	TickInterval time.Duration
}

// Tracker is the single writer of one user's DailyStepState.
type Tracker struct {
	userID      string
	store       state.Store
	pusher      Pusher
	clock       clock.Clock
	ids         clock.IDGenerator
	sched       Scheduler
	pushTimeout time.Duration
	tick        time.Duration
	runner      Runner
	recorder    Recorder
	logger      *events.Logger

	// Published view, written by the loop after each persist.
	mu       sync.RWMutex
	snapshot *models.DailyStepState
	sensorOK bool
	running  bool

	requests chan chan error
	results  chan pushResult
	stopped  chan struct{}
	stopOnce sync.Once

	// Owned by the loop goroutine.
	st *models.DailyStepState
}

type pushResult struct {
	stats   models.DailyStats
	trigger Trigger
	elapsed time.Duration
	err     error
	reply   chan error
}

// New creates a tracker for cfg.UserID.
func New(cfg Config, store state.Store, pusher Pusher, clk clock.Clock, logger *events.Logger) (*Tracker, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("%w: tracker needs a user id", models.ErrNotAuthenticated)
	}
	if cfg.Scheduler.Threshold <= 0 {
		cfg.Scheduler = DefaultScheduler()
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 30 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Tracker{
		userID:      cfg.UserID,
		store:       store,
		pusher:      pusher,
		clock:       clk,
		ids:         clock.UUIDGenerator{},
		sched:       cfg.Scheduler,
		pushTimeout: cfg.PushTimeout,
		tick:        cfg.TickInterval,
		recorder:    nopRecorder{},
		logger:      logger.WithFields(map[string]interface{}{"component": "tracker", "user_id": cfg.UserID}),
		requests:    make(chan chan error),
		results:     make(chan pushResult, 1),
		stopped:     make(chan struct{}),
	}, nil
}

// SetRecorder installs a metrics recorder. Call before Run.
func (t *Tracker) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	t.recorder = r
}

// SetIDGenerator replaces the request ID source. Call before Run.
func (t *Tracker) SetIDGenerator(g clock.IDGenerator) {
	t.ids = g
}

// UserID returns the user this tracker serves.
func (t *Tracker) UserID() string {
	return t.userID
}

// Snapshot returns the last persisted state. ok is false before Run has
// loaded it.
func (t *Tracker) Snapshot() (models.DailyStepState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.snapshot == nil {
		return models.DailyStepState{UserID: t.userID}, false
	}
	return *t.snapshot.Clone(), true
}

// SensorAvailable reports whether Run was given a sensor stream.
func (t *Tracker) SensorAvailable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sensorOK
}

// Pushing reports whether a push is in flight.
func (t *Tracker) Pushing() bool {
	return t.runner.Busy()
}

// SyncNow requests an immediate push of the current day and waits for it.
// It returns models.ErrSyncInProgress when a push is already running.
func (t *Tracker) SyncNow(ctx context.Context) error {
	reply := make(chan error, 1)

	select {
	case t.requests <- reply:
	case <-t.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns the state until ctx is cancelled. A nil stream runs the tracker
// degraded: state is loaded and served, manual syncs work, no steps accrue.
func (t *Tracker) Run(ctx context.Context, stream *sensor.Stream) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	t.sensorOK = stream != nil
	t.mu.Unlock()

	defer t.stop()

	unlock, err := t.store.Lock(t.userID)
	if err != nil {
		return fmt.Errorf("lock state: %w", err)
	}
	defer unlock()

	if err := t.load(); err != nil {
		return err
	}

	pushCtx, cancelPushes := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		t.stop()
		cancelPushes()
		t.drain()
	}()

	now := t.clock.Now()
	if Rollover(t.st, models.DayOf(now)) {
		t.logger.WithField("date", t.st.LastSyncDate).Info("Started a new day")
		t.persist()
	}
	t.publish()

	if t.sched.ForceOnStart(t.st, now) {
		t.startPush(pushCtx, TriggerStart, nil)
	}

	var evs <-chan sensor.Event
	if stream != nil {
		evs = stream.Events
		t.logger.WithField("mode", stream.Mode.String()).Info("Tracking steps")
	} else {
		t.logger.Warn("No step sensor, running degraded")
	}

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Tracker stopping")
			return nil

		case ev, ok := <-evs:
			if !ok {
				t.logger.Warn("Sensor stream closed")
				evs = nil
				continue
			}
			t.handleEvent(pushCtx, ev)

		case reply := <-t.requests:
			if !t.startPush(pushCtx, TriggerManual, reply) {
				reply <- models.ErrSyncInProgress
			}

		case res := <-t.results:
			t.handleResult(res)

		case <-ticker.C:
			if Rollover(t.st, models.DayOf(t.clock.Now())) {
				t.logger.WithField("date", t.st.LastSyncDate).Info("Started a new day")
				t.persist()
				t.publish()
			}
		}
	}
}

// stop releases pending SyncNow callers.
func (t *Tracker) stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// drain records push results until the runner is idle, so a push that
// finished during shutdown still updates the persisted sync time.
func (t *Tracker) drain() {
	idle := make(chan struct{})
	go func() {
		t.runner.Wait()
		close(idle)
	}()

	for {
		select {
		case res := <-t.results:
			t.handleResult(res)
		case <-idle:
			for {
				select {
				case res := <-t.results:
					t.handleResult(res)
				default:
					return
				}
			}
		}
	}
}

// load reads persisted state, starting fresh when none or unreadable.
func (t *Tracker) load() error {
	today := models.DayOf(t.clock.Now())

	st, err := t.store.Load(t.userID)
	switch {
	case err == nil:
		st.UserID = t.userID
		t.st = st
		t.logger.WithFields(map[string]interface{}{
			"steps": st.StepsToday,
			"date":  st.LastSyncDate,
		}).Info("Loaded step state")
	case errors.Is(err, state.ErrStateNotFound):
		t.st = models.NewDailyStepState(t.userID, today)
	case errors.Is(err, state.ErrStateCorrupt):
		t.logger.WithError(err).Error("Stored step state unreadable, starting fresh")
		t.st = models.NewDailyStepState(t.userID, today)
	default:
		return fmt.Errorf("load state: %w", err)
	}
	return nil
}

func (t *Tracker) handleEvent(ctx context.Context, ev sensor.Event) {
	now := t.clock.Now()
	today := models.DayOf(now)

	t.recorder.StepEvent(ev.Mode.String())

	prev := t.st.StepsToday
	if t.st.LastSyncDate != today {
		prev = 0
	}

	if !Apply(t.st, ev, today) {
		return
	}

	t.persist()
	t.publish()

	if ok, trigger := t.sched.ShouldSync(prev, t.st.StepsToday, t.st.LastBackendSync, now); ok {
		t.startPush(ctx, trigger, nil)
	}
}

// startPush hands a push of the current state to the runner. It returns
// false when a push is already in flight.
func (t *Tracker) startPush(ctx context.Context, trigger Trigger, reply chan error) bool {
	stats := estimate.Stats(t.st.LastSyncDate, t.st.StepsToday)
	requestID := t.ids.New()

	started := t.runner.TryGo(func() {
		pctx, cancel := context.WithTimeout(ctx, t.pushTimeout)
		defer cancel()
		pctx = events.WithLogger(pctx, t.logger)
		pctx = events.WithRequestID(pctx, requestID)

		begin := time.Now()
		err := t.pusher.Push(pctx, stats)
		// Read by the loop, or by drain once the loop has exited.
		t.results <- pushResult{stats: stats, trigger: trigger, elapsed: time.Since(begin), err: err, reply: reply}
	})

	if !started {
		t.recorder.PushDropped(string(trigger))
		t.logger.WithField("trigger", string(trigger)).Debug("Push already in flight, skipping")
		return false
	}

	t.logger.WithFields(map[string]interface{}{
		"trigger":    string(trigger),
		"steps":      stats.Steps,
		"date":       stats.Date,
		"request_id": requestID,
	}).Debug("Push started")
	return true
}

func (t *Tracker) handleResult(res pushResult) {
	t.recorder.PushCompleted(string(res.trigger), res.err, res.elapsed)

	log := t.logger.WithFields(map[string]interface{}{
		"trigger": string(res.trigger),
		"steps":   res.stats.Steps,
		"date":    res.stats.Date,
	})

	if res.err != nil {
		if errors.Is(res.err, models.ErrNotAuthenticated) {
			log.WithError(res.err).Warn("Push skipped, not authenticated")
		} else {
			log.WithError(res.err).Error("Push failed")
		}
	} else {
		t.st.LastBackendSync = t.clock.Now().UnixMilli()
		t.persist()
		t.publish()
		log.Info("Steps synced")
	}

	if res.reply != nil {
		res.reply <- res.err
	}
}

// persist writes the loop's state. Failures leave memory authoritative and
// are retried by the next change.
func (t *Tracker) persist() {
	if err := t.store.Save(t.userID, t.st); err != nil {
		t.recorder.PersistFailed()
		t.logger.WithError(err).Error("Failed to persist step state")
	}
}

func (t *Tracker) publish() {
	snap := t.st.Clone()

	t.mu.Lock()
	t.snapshot = snap
	t.mu.Unlock()

	t.recorder.StepsToday(snap.StepsToday)
}

type nopRecorder struct{}

func (nopRecorder) StepEvent(string)                           {}
func (nopRecorder) StepsToday(int64)                           {}
func (nopRecorder) PushCompleted(string, error, time.Duration) {}
func (nopRecorder) PushDropped(string)                         {}
func (nopRecorder) PersistFailed()                             {}
