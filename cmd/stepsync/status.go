package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/reconcile"
	"github.com/TheMichaelB/stepsync/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show login, stored count and recent history",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fit, err := apiClient.Fitness(ctx)
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{"authenticated": false, "error": err.Error()})
			return nil
		}
		printWarning("Not logged in: %v", err)
		return nil
	}

	today := models.DayOf(time.Now())
	st, err := apiClient.State.Load(fit.UserID())
	switch {
	case errors.Is(err, state.ErrStateNotFound):
		st = models.NewDailyStepState(fit.UserID(), today)
	case err != nil:
		return fmt.Errorf("load state: %w", err)
	}

	local := st.StepsToday
	if st.LastSyncDate != today {
		local = 0
	}

	history, fetchErr := fit.Recent(ctx, cfg.UI.HistoryLimit)
	var entries []models.DailyStats
	if fetchErr == nil {
		entries = reconcile.Merge(history, local, today)
	}

	if jsonOutput {
		result := map[string]interface{}{
			"authenticated": true,
			"user_id":       fit.UserID(),
			"state":         st,
			"connected":     fetchErr == nil,
			"history":       entries,
		}
		if fetchErr != nil {
			result["error"] = fetchErr.Error()
		}
		printJSON(result)
		return nil
	}

	p := newPrinter()
	printInfo("User: %s", fit.UserID())
	p.Printf("Today (%s): %d steps\n", today, local)
	if st.NeverSynced() {
		fmt.Println("Last push: never")
	} else {
		fmt.Printf("Last push: %s\n", st.LastSync().Local().Format("2006-01-02 15:04:05"))
	}

	if fetchErr != nil {
		printWarning("Backend not connected: %v", fetchErr)
		return nil
	}

	fmt.Println()
	for _, d := range entries {
		p.Printf("  %s  %8d steps  %5d kcal  %6.2f km\n", d.Date, d.Steps, d.Calories, d.Distance)
	}
	return nil
}
