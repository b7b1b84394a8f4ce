package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stepsync/internal/clock"
	"github.com/TheMichaelB/stepsync/internal/reconcile"
	"github.com/TheMichaelB/stepsync/internal/sensor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track steps and keep the backend in sync",
	Long: `Run reads step events from a device bridge or a replay file, keeps
today's count on disk, and pushes it to the backend every 50 steps or
5 minutes. Without a sensor it runs degraded: the stored count is served and
manual syncs still work.`,
	Example: `  stepsync run --bridge ws://localhost:8765
  stepsync run --replay walk.log --mode detector`,
	RunE: runRun,
}

var (
	runReplay string
	runBridge string
	runMode   string
	runQuiet  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runReplay, "replay", "",
		"Replay sensor readings from a file")
	runCmd.Flags().StringVar(&runBridge, "bridge", "",
		"Device bridge URL (overrides tracker.bridge_url)")
	runCmd.Flags().StringVar(&runMode, "mode", "",
		"Sensor mode: auto, counter or detector (overrides tracker.sensor_mode)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false,
		"Do not print the step view")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := apiClient.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	stream, closeSensor := openSensor(ctx)
	defer closeSensor()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics listener failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.WithField("addr", cfg.Metrics.Addr).Info("Serving metrics")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Reconciler.Run(ctx)
	}()
	if !runQuiet && !jsonOutput {
		go displayLoop(ctx, sess.Reconciler)
	}

	if !jsonOutput {
		printInfo("Tracking steps for %s, press Ctrl+C to stop", sess.UserID)
	}

	err = sess.Tracker.Run(ctx, stream)
	stop()
	<-done

	if jsonOutput {
		st, _ := sess.Tracker.Snapshot()
		printJSON(map[string]interface{}{
			"success":     err == nil,
			"user_id":     sess.UserID,
			"steps_today": st.StepsToday,
			"date":        st.LastSyncDate,
		})
	}
	return err
}

// openSensor starts the configured source. A missing sensor is not fatal:
// the tracker runs degraded with a nil stream.
func openSensor(ctx context.Context) (*sensor.Stream, func()) {
	mode := runMode
	if mode == "" {
		mode = cfg.Tracker.SensorMode
	}
	bridge := runBridge
	if bridge == "" {
		bridge = cfg.Tracker.BridgeURL
	}

	var (
		src sensor.Source
		err error
	)
	switch {
	case runReplay != "":
		src, err = openReplay(runReplay)
	case bridge != "":
		src = sensor.NewBridgeSource(bridge, "", clock.RealClock{}, logger)
	default:
		err = sensor.ErrSensorUnavailable
	}

	var stream *sensor.Stream
	if err == nil {
		stream, err = src.Start(ctx, mode)
	}
	if err != nil {
		logger.WithError(err).Warn("Step sensor not available")
		if !jsonOutput {
			printWarning("No step sensor: %v", err)
		}
		if src != nil {
			_ = src.Close()
		}
		return nil, func() {}
	}

	return stream, func() { _ = src.Close() }
}

func openReplay(path string) (sensor.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := sensor.NewReplaySource(f, clock.RealClock{}, logger)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return src, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", apiClient.Metrics.Handler())
	return mux
}

func displayLoop(ctx context.Context, r *reconcile.Reconciler) {
	ticker := time.NewTicker(cfg.UI.PollInterval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		line := formatView(r.View())
		if line != last {
			fmt.Println(line)
			last = line
		}
	}
}

func formatView(v reconcile.View) string {
	p := newPrinter()
	today := v.Entries[0]

	status := "synced"
	switch {
	case v.Syncing:
		status = "syncing"
	case !v.Connected:
		status = "backend not connected"
	}

	return p.Sprintf("%s  %d steps  %d kcal  %.2f km  %d min  [%s]",
		today.Date, today.Steps, today.Calories, today.Distance, today.ActiveMinutes, status)
}
