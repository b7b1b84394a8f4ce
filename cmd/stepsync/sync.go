package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stepsync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push today's stored step count to the backend",
	Long: `Sync loads the stored state for the logged-in user, rolls it over if the
day changed, and pushes it once. Use it when 'run' is not active.`,
	RunE: runSync,
}

var syncTimeout time.Duration

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Second,
		"Give up after this long")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	sess, err := apiClient.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	// Run the tracker degraded so the push goes through the same path as
	// automatic ones and records the sync time.
	runCtx, stopTracker := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sess.Tracker.Run(runCtx, nil) }()

	start := time.Now()
	for {
		// A start-up push may hold the runner briefly.
		err = sess.Reconciler.ManualSync(ctx)
		if !errors.Is(err, models.ErrSyncInProgress) {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
			continue
		}
		break
	}
	stopTracker()
	if runErr := <-done; runErr != nil {
		err = errors.Join(err, runErr)
	}

	st, _ := sess.Tracker.Snapshot()

	if jsonOutput {
		result := map[string]interface{}{
			"success":     err == nil,
			"user_id":     sess.UserID,
			"date":        st.LastSyncDate,
			"steps_today": st.StepsToday,
			"duration":    time.Since(start).String(),
		}
		if err != nil {
			result["error"] = err.Error()
		}
		printJSON(result)
		return err
	}

	if err != nil {
		printError("Sync failed: %v", err)
		return err
	}

	printSuccess("Synced %s steps for %s", newPrinter().Sprintf("%d", st.StepsToday), st.LastSyncDate)
	return nil
}
