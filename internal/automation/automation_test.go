package automation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "push.yaml")
	content := `name: push-and-lift
description: push forward then lift
initial_pitch: 0.05
disturbances:
  - kind: push
    start: 1.0
    duration: 0.2
    magnitude: 3.0
  - kind: lift
    start: 2.0
    duration: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if s.Name != "push-and-lift" || s.InitialPitch != 0.05 || len(s.Disturbances) != 2 {
		t.Fatalf("unexpected scenario: %+v", s)
	}

	tests := []struct {
		t      float64
		push   float64
		lifted bool
	}{
		{0.5, 0, false},
		{1.0, 3, false},
		{1.19, 3, false},
		{1.2, 0, false},
		{2.2, 0, true},
		{2.5, 0, false},
	}
	for _, tt := range tests {
		if got := s.PushAt(tt.t); got != tt.push {
			t.Errorf("PushAt(%g) = %g, want %g", tt.t, got, tt.push)
		}
		if got := s.LiftedAt(tt.t); got != tt.lifted {
			t.Errorf("LiftedAt(%g) = %v, want %v", tt.t, got, tt.lifted)
		}
	}
}

func TestSaveLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	s := &Scenario{Name: "s", Disturbances: []Disturbance{{Kind: Lift, Start: 0, Duration: 1}}}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadScenario(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.LiftedAt(0.5) {
		t.Error("lift lost in round trip")
	}
}

func TestValidateRejectsBadDisturbances(t *testing.T) {
	bad := []Disturbance{
		{Kind: "kick", Start: 0, Duration: 1},
		{Kind: Push, Start: -1, Duration: 1},
		{Kind: Push, Start: 0, Duration: 0},
	}
	for _, d := range bad {
		s := &Scenario{Disturbances: []Disturbance{d}}
		if err := s.Validate(); !errors.Is(err, ErrInvalidScenario) {
			t.Errorf("Validate(%+v) = %v", d, err)
		}
	}
}

func TestNilScenario(t *testing.T) {
	var s *Scenario
	if s.PushAt(1) != 0 || s.LiftedAt(1) {
		t.Error("nil scenario should not disturb")
	}
}

func TestMonteCarloScenarios(t *testing.T) {
	cfg := MonteCarloConfig{
		NumTrials:    5,
		PushesPerRun: 3,
		Horizon:      4,
		PushDuration: 0.1,
		MaxMagnitude: 2,
		MaxPitch:     0.1,
		Seed:         42,
	}
	a := MonteCarloScenarios(cfg)
	b := MonteCarloScenarios(cfg)
	if len(a) != 5 {
		t.Fatalf("got %d scenarios", len(a))
	}
	for i := range a {
		if a[i].InitialPitch != b[i].InitialPitch {
			t.Error("same seed should draw the same scenarios")
		}
		if len(a[i].Disturbances) != 3 {
			t.Errorf("scenario %d has %d pushes", i, len(a[i].Disturbances))
		}
		for _, d := range a[i].Disturbances {
			if d.Magnitude < -2 || d.Magnitude > 2 || d.Start < 0 || d.Start > 4 {
				t.Errorf("push out of range: %+v", d)
			}
		}
		if err := a[i].Validate(); err != nil {
			t.Error(err)
		}
	}
}

func TestMonteCarloStats(t *testing.T) {
	stable, unstable := MonteCarloStats([]TrialResult{{Fell: false}, {Fell: true}, {Fell: false}})
	if stable != 2 || unstable != 1 {
		t.Errorf("stats = %d/%d, want 2/1", stable, unstable)
	}
}
