package benchmark

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheMichaelB/stepsync/internal/estimate"
	"github.com/TheMichaelB/stepsync/internal/models"
	"github.com/TheMichaelB/stepsync/internal/reconcile"
	"github.com/TheMichaelB/stepsync/internal/sensor"
	"github.com/TheMichaelB/stepsync/internal/state"
	"github.com/TheMichaelB/stepsync/internal/tracker"
	"github.com/TheMichaelB/stepsync/test/testutil"
)

func benchStores(b *testing.B) map[string]state.Store {
	b.Helper()
	logger := testutil.NewTestLogger()

	js, err := state.NewJSONStore(b.TempDir(), logger)
	if err != nil {
		b.Fatal(err)
	}
	sq, err := state.NewSQLiteStore(filepath.Join(b.TempDir(), "state.db"), logger)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		js.Close()
		sq.Close()
	})

	return map[string]state.Store{"json": js, "sqlite": sq}
}

func BenchmarkStateSave(b *testing.B) {
	for name, store := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			st := testutil.SampleState("fb-bench", "2024-05-01", 0)

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				st.StepsToday = int64(i)
				if err := store.Save("fb-bench", st); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkStateLoad(b *testing.B) {
	for name, store := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			if err := store.Save("fb-bench", testutil.SampleState("fb-bench", "2024-05-01", 4200)); err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := store.Load("fb-bench"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkApply(b *testing.B) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	b.Run("counter", func(b *testing.B) {
		st := models.NewDailyStepState("fb-bench", "2024-05-01")
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			tracker.Apply(st, sensor.NewCounterEvent(int64(10000+i), at), "2024-05-01")
		}
	})

	b.Run("detector", func(b *testing.B) {
		st := models.NewDailyStepState("fb-bench", "2024-05-01")
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			tracker.Apply(st, sensor.NewStepEvent(at), "2024-05-01")
		}
	})
}

func BenchmarkMerge(b *testing.B) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, n := range []int{5, 31, 365} {
		b.Run(fmt.Sprintf("%ddays", n), func(b *testing.B) {
			history := testutil.SampleHistory(last, n)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				reconcile.Merge(history, 4500, "2024-05-01")
			}
		})
	}
}

func BenchmarkEstimate(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		estimate.Stats("2024-05-01", int64(i))
	}
}
