package metrics

import (
	"math"
	"strings"
	"testing"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(nil, dynamo.Control{2}, 0)
	m.Observe(nil, dynamo.Control{-4}, 0)
	if m.Value() != 3 {
		t.Errorf("Value = %f, want 3", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestStability(t *testing.T) {
	m := NewStability(0.1)
	if m.Value() != 1 {
		t.Error("no samples should count as stable")
	}
	m.Observe(dynamo.State{5, 0.05, 0, 0}, nil, 0)
	m.Observe(dynamo.State{0, -0.2, 0, 0}, nil, 0)
	if m.Value() != 0.5 {
		t.Errorf("Value = %f, want 0.5", m.Value())
	}
}

func TestEnergy(t *testing.T) {
	p, err := physics.NewWheeledInvertedPendulum(1.0, 10, 1, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	m := NewEnergy(p)
	m.Observe(dynamo.State{0, 0, 0, 0}, nil, 0)
	if m.Value() != 0 {
		t.Errorf("upright energy = %f, want 0", m.Value())
	}
	m.Observe(dynamo.State{0, math.Pi / 2, 0, 0}, nil, 0)
	if math.Abs(m.Value()-physics.Gravity) > 1e-9 {
		t.Errorf("peak energy = %f, want %f", m.Value(), physics.Gravity)
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 2, 3, 4})
	if s.Count != 4 || s.Mean != 2.5 || s.Min != 1 || s.Max != 4 {
		t.Errorf("unexpected summary %+v", s)
	}
	// Population standard deviation, as numpy.std computes it.
	if math.Abs(s.Std-math.Sqrt(1.25)) > 1e-12 {
		t.Errorf("Std = %f, want %f", s.Std, math.Sqrt(1.25))
	}
	if s.P99 != 4 {
		t.Errorf("P99 = %f, want 4", s.P99)
	}
	if empty := Summarize(nil); empty.Count != 0 {
		t.Error("empty summary should have no samples")
	}
}

func TestReportLines(t *testing.T) {
	line := PlanningTimeLine([]float64{0.001, 0.003})
	if line != "Planning time: 2 ± 1 ms over 2 calls" {
		t.Errorf("got %q", line)
	}
	line = BasePitchLine([]float64{-0.1, 0.1})
	if !strings.HasPrefix(line, "Base pitch magnitude: 0.1 ± 0 rad over 2 calls") {
		t.Errorf("got %q", line)
	}
}

func TestStandard(t *testing.T) {
	p, _ := physics.NewWheeledInvertedPendulum(0.4, 10, 1, 0.01)
	names := map[string]bool{}
	for _, m := range Standard(p, 0.1) {
		names[m.Name()] = true
	}
	for _, want := range []string{"control_effort", "stability", "peak_energy"} {
		if !names[want] {
			t.Errorf("missing metric %s", want)
		}
	}
}

func TestDominantFrequency(t *testing.T) {
	const dt = 0.005
	values := make([]float64, 400)
	for i := range values {
		values[i] = 0.1 + 0.02*math.Sin(2*math.Pi*5*float64(i)*dt)
	}
	if f := DominantFrequency(values, dt); math.Abs(f-5) > 1e-9 {
		t.Errorf("DominantFrequency = %f, want 5", f)
	}
	if f := DominantFrequency([]float64{1, 1, 1, 1}, dt); f != 0 {
		t.Errorf("constant series should have no dominant frequency, got %f", f)
	}
	if PowerSpectrum([]float64{1}) != nil {
		t.Error("expected no spectrum for a single sample")
	}
}
