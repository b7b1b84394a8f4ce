// Package reconcile builds the display view: remote history from the
// backend merged with the live local count, plus a catch-up sync when the
// backend has nothing yet.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/estimate"
	"github.com/TheMichaelB/stepsync/internal/events"
	"github.com/TheMichaelB/stepsync/internal/models"
)

// Local is the read side of the step tracker.
type Local interface {
	Snapshot() (models.DailyStepState, bool)
	SyncNow(ctx context.Context) error
}

// History fetches recent remote entries, most recent first.
type History interface {
	Recent(ctx context.Context, limit int) ([]models.DailyStats, error)
}

// Config holds reconciler settings.
type Config struct {
	PollInterval  time.Duration
	AutoSyncDelay time.Duration
	HistoryLimit  int
}

// View is what a display shows.
type View struct {
	Entries    []models.DailyStats // most recent first, today included
	StepsToday int64
	Connected  bool
	Syncing    bool
	Err        error
	UpdatedAt  time.Time
}

// Reconciler merges local and remote state. It never writes local state;
// syncs go through Local.SyncNow.
type Reconciler struct {
	local   Local
	remote  History
	clock   clock.Clock
	cfg     Config
	logger  *events.Logger
	syncing atomic.Bool

	mu       sync.RWMutex
	remoteOK bool
	history  []models.DailyStats
	lastErr  error

	// wg tracks background auto-syncs.
	wg sync.WaitGroup
}

// New creates a reconciler.
func New(cfg Config, local Local, remote History, clk clock.Clock, logger *events.Logger) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.AutoSyncDelay < 0 {
		cfg.AutoSyncDelay = 0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Reconciler{
		local:  local,
		remote: remote,
		clock:  clk,
		cfg:    cfg,
		logger: logger.WithField("component", "reconcile"),
	}
}

// Merge folds the local count into remote history. If the newest remote
// entry is today it takes the larger step count with derived fields from
// the local count; otherwise a local-only entry for today is prepended.
// remote must be most recent first and is not modified.
func Merge(remote []models.DailyStats, localSteps int64, today string) []models.DailyStats {
	local := estimate.Stats(today, localSteps)

	if len(remote) > 0 && remote[0].Date == today {
		out := make([]models.DailyStats, len(remote))
		copy(out, remote)
		out[0] = models.DailyStats{
			Date:          today,
			Steps:         max(local.Steps, remote[0].Steps),
			Calories:      local.Calories,
			Distance:      local.Distance,
			ActiveMinutes: local.ActiveMinutes,
		}
		return out
	}

	out := make([]models.DailyStats, 0, len(remote)+1)
	out = append(out, local)
	return append(out, remote...)
}

// Refresh fetches remote history and rebuilds the view. A fetch failure
// leaves a local-only view and is returned wrapped in
// models.ErrBackendOffline.
func (r *Reconciler) Refresh(ctx context.Context) (View, error) {
	history, err := r.remote.Recent(ctx, r.cfg.HistoryLimit)

	r.mu.Lock()
	if err != nil {
		r.remoteOK = false
		r.history = nil
		r.lastErr = errors.Join(models.ErrBackendOffline, err)
	} else {
		r.remoteOK = true
		r.history = history
		r.lastErr = nil
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.WithError(err).Debug("Backend not connected, showing local steps")
	}

	view := r.rebuild()
	return view, view.Err
}

// View returns the current view, recomputed against the latest local count.
func (r *Reconciler) View() View {
	return r.rebuild()
}

// Syncing reports whether a reconciler-initiated sync is running.
func (r *Reconciler) Syncing() bool {
	return r.syncing.Load()
}

// ManualSync pushes today's steps, then refetches. It returns
// models.ErrSyncInProgress while another sync is running.
func (r *Reconciler) ManualSync(ctx context.Context) error {
	if !r.syncing.CompareAndSwap(false, true) {
		return models.ErrSyncInProgress
	}
	defer r.syncing.Store(false)

	r.logger.Info("Manual sync requested")
	return r.syncAndRefresh(ctx)
}

// Run checks every PollInterval whether an auto-sync is due, until ctx is
// cancelled. Remote history is fetched once up front and after each sync;
// View merges it with the local count on every call.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.wg.Wait()

	if _, err := r.Refresh(ctx); err != nil && ctx.Err() != nil {
		return nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.maybeAutoSync(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// maybeAutoSync starts one catch-up sync when the backend answered with no
// history but steps exist locally.
func (r *Reconciler) maybeAutoSync(ctx context.Context) {
	r.mu.RLock()
	empty := r.remoteOK && len(r.history) == 0
	r.mu.RUnlock()

	if !empty || r.localSteps() <= 0 {
		return
	}
	if !r.syncing.CompareAndSwap(false, true) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.syncing.Store(false)

		t := time.NewTimer(r.cfg.AutoSyncDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}

		steps := r.localSteps()
		r.logger.WithField("steps", steps).Info("Backend empty, auto-syncing local steps")
		if err := r.syncAndRefresh(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Warn("Auto-sync failed")
		}
	}()
}

func (r *Reconciler) syncAndRefresh(ctx context.Context) error {
	if err := r.local.SyncNow(ctx); err != nil {
		return err
	}

	_, err := r.Refresh(ctx)
	return err
}

func (r *Reconciler) localSteps() int64 {
	st, ok := r.local.Snapshot()
	if !ok || st.LastSyncDate != models.DayOf(r.clock.Now()) {
		return 0
	}
	return st.StepsToday
}

func (r *Reconciler) rebuild() View {
	today := models.DayOf(r.clock.Now())
	steps := r.localSteps()

	r.mu.RLock()
	defer r.mu.RUnlock()

	view := View{
		StepsToday: steps,
		Connected:  r.remoteOK,
		Syncing:    r.syncing.Load(),
		Err:        r.lastErr,
		UpdatedAt:  r.clock.Now(),
	}
	if r.remoteOK {
		view.Entries = Merge(r.history, steps, today)
	} else {
		view.Entries = []models.DailyStats{estimate.Stats(today, steps)}
	}

	return view
}
