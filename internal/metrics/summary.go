package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary holds population statistics of a series.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
	P99   float64
}

// Summarize computes statistics of values. The standard deviation is the
// population one.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, variance := stat.PopMeanVariance(values, nil)
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Summary{
		Count: len(values),
		Mean:  mean,
		Std:   math.Sqrt(variance),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}

// Abs returns the elementwise magnitude of values.
func Abs(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Abs(v)
	}
	return out
}

// PlanningTimeLine formats planning times given in seconds.
func PlanningTimeLine(times []float64) string {
	s := Summarize(times)
	return fmt.Sprintf("Planning time: %.2g ± %.2g ms over %d calls", 1e3*s.Mean, 1e3*s.Std, s.Count)
}

// BasePitchLine formats the magnitude of base pitches given in radians.
func BasePitchLine(pitches []float64) string {
	s := Summarize(Abs(pitches))
	return fmt.Sprintf("Base pitch magnitude: %.2g ± %.2g rad over %d calls", s.Mean, s.Std, s.Count)
}
