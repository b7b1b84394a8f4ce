package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/TheMichaelB/stepsync/internal/models"
)

var statsCmd = &cobra.Command{
	Use:       "stats [week|month|year]",
	Short:     "Show backend history for a range",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"week", "month", "year"},
	RunE:      runStats,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show lifetime totals",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(summaryCmd)
}

func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

func runStats(cmd *cobra.Command, args []string) error {
	rng := models.RangeWeek
	if len(args) == 1 {
		var err error
		if rng, err = models.ParseStatsRange(args[0]); err != nil {
			return err
		}
	}

	fit, err := apiClient.Fitness(cmd.Context())
	if err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	report, err := fit.Stats(cmd.Context(), rng)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	if len(report.Data) == 0 {
		printInfo("No activity logged this %s", rng)
		return nil
	}

	p := newPrinter()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "DATE\tSTEPS\tKCAL\tKM\tMIN\t")
	for _, d := range report.Data {
		fmt.Fprint(w, p.Sprintf("%s\t%d\t%d\t%.2f\t%d\t\n", d.Date, d.Steps, d.Calories, d.Distance, d.ActiveMinutes))
	}
	w.Flush()

	fmt.Println()
	p.Printf("Total: %d steps, %d kcal, %.2f km, %d active minutes\n",
		report.TotalSteps, report.TotalCalories, report.TotalDistance, report.TotalActiveMinutes)
	p.Printf("Average: %.0f steps, %.0f kcal per day\n", report.AverageSteps, report.AverageCalories)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	fit, err := apiClient.Fitness(cmd.Context())
	if err != nil {
		return fmt.Errorf("not authenticated: %w", err)
	}

	summary, err := fit.Summary(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(summary)
		return nil
	}

	p := newPrinter()
	p.Printf("Entries:        %d\n", summary.TotalEntries)
	p.Printf("Steps:          %d\n", summary.TotalSteps)
	p.Printf("Calories:       %d kcal\n", summary.TotalCalories)
	p.Printf("Distance:       %.2f km\n", summary.TotalDistance)
	p.Printf("Active minutes: %d\n", summary.TotalActiveMinutes)
	if summary.LastUpdate != nil {
		fmt.Printf("Last update:    %s\n", summary.LastUpdate.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
