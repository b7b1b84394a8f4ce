// Package estimate derives calories, distance and active minutes from a step
// count. The same formulas feed the push path and the display merge.
package estimate

import "github.com/TheMichaelB/stepsync/internal/models"

const (
	// CaloriesPerHundredSteps is 0.04 kcal per step.
	CaloriesPerHundredSteps = 4
	// StrideMicroKm is a 0.762 m stride expressed in millionths of a kilometre.
	StrideMicroKm = 762
	// StepsPerActiveMinute approximates walking cadence.
	StepsPerActiveMinute = 100
)

// Derived holds the values computed from a step count.
type Derived struct {
	Calories      int64
	DistanceKm    float64
	ActiveMinutes int64
}

// For computes derived metrics. Negative input is treated as zero.
func For(steps int64) Derived {
	if steps < 0 {
		steps = 0
	}
	return Derived{
		Calories:      steps * CaloriesPerHundredSteps / 100,
		DistanceKm:    float64(steps*StrideMicroKm) / 1e6,
		ActiveMinutes: steps / StepsPerActiveMinute,
	}
}

// Stats builds the daily record for date with derived fields filled in.
func Stats(date string, steps int64) models.DailyStats {
	d := For(steps)
	if steps < 0 {
		steps = 0
	}
	return models.DailyStats{
		Date:          date,
		Steps:         steps,
		Calories:      d.Calories,
		Distance:      d.DistanceKm,
		ActiveMinutes: d.ActiveMinutes,
	}
}
