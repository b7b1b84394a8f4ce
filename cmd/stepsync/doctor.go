package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/services/fitness"
	"github.com/TheMichaelB/stepsync/internal/state"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose backend connectivity, login and local storage",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	var checks []check
	add := func(name string, err error, detail string) {
		c := check{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			c.Detail = err.Error()
		}
		checks = append(checks, c)
	}

	// Health needs no identity.
	probe := fitness.NewService(apiClient.Transport(), "", nil, logger)
	start := time.Now()
	status, err := probe.Health(ctx)
	add("backend "+cfg.API.BaseURL, err, fmt.Sprintf("%s (%s)", status, time.Since(start).Round(time.Millisecond)))

	fit, authErr := apiClient.Fitness(ctx)
	if authErr == nil {
		add("login", nil, "user "+fit.UserID())

		start = time.Now()
		report, err := fit.Stats(ctx, models.RangeWeek)
		detail := ""
		if err == nil {
			detail = fmt.Sprintf("%d entries this week (%s)", len(report.Data), time.Since(start).Round(time.Millisecond))
		}
		add("stats endpoint", err, detail)
	} else {
		add("login", authErr, "")
	}

	users, err := apiClient.State.List()
	add("state backend "+cfg.Storage.Backend, err, fmt.Sprintf("%d users", len(users)))

	if sq, ok := apiClient.State.(*state.SQLiteStore); ok {
		current, latest, dirty, err := sq.SchemaStatus()
		detail := fmt.Sprintf("schema %d/%d", current, latest)
		if err == nil && dirty {
			err = fmt.Errorf("schema version %d is dirty", current)
		}
		add("sqlite schema", err, detail)
	}

	healthy := true
	for _, c := range checks {
		healthy = healthy && c.OK
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"healthy": healthy, "checks": checks})
	} else {
		for _, c := range checks {
			if c.OK {
				printSuccess("✓ %s: %s", c.Name, c.Detail)
			} else {
				printError("✗ %s: %s", c.Name, c.Detail)
			}
		}
	}

	if !healthy {
		return fmt.Errorf("%d checks failed", countFailed(checks))
	}
	return nil
}

func countFailed(checks []check) int {
	n := 0
	for _, c := range checks {
		if !c.OK {
			n++
		}
	}
	return n
}
