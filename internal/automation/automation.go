package automation

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidScenario = errors.New("invalid scenario")

type Kind string

const (
	// Push adds an angular acceleration to the base pitch.
	Push Kind = "push"
	// Lift takes the wheels off the floor: the base pitch is held and
	// floor contact is lost.
	Lift Kind = "lift"
)

// Disturbance is applied over [Start, Start+Duration).
type Disturbance struct {
	Kind      Kind    `yaml:"kind"`
	Start     float64 `yaml:"start"`
	Duration  float64 `yaml:"duration"`
	Magnitude float64 `yaml:"magnitude,omitempty"`
}

func (d Disturbance) Active(t float64) bool {
	return t >= d.Start && t < d.Start+d.Duration
}

// Scenario scripts the disturbances of a simulated balancing run.
type Scenario struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	InitialPitch float64       `yaml:"initial_pitch"`
	Disturbances []Disturbance `yaml:"disturbances"`
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &scenario, nil
}

func (s *Scenario) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Scenario) Validate() error {
	for i, d := range s.Disturbances {
		switch d.Kind {
		case Push, Lift:
		default:
			return fmt.Errorf("%w: disturbance %d has unknown kind %q", ErrInvalidScenario, i, d.Kind)
		}
		if d.Start < 0 || d.Duration <= 0 {
			return fmt.Errorf("%w: disturbance %d needs start >= 0 and duration > 0", ErrInvalidScenario, i)
		}
	}
	return nil
}

// PushAt sums the magnitudes of the pushes active at time t.
func (s *Scenario) PushAt(t float64) float64 {
	if s == nil {
		return 0
	}
	total := 0.0
	for _, d := range s.Disturbances {
		if d.Kind == Push && d.Active(t) {
			total += d.Magnitude
		}
	}
	return total
}

// LiftedAt reports whether a lift is active at time t.
func (s *Scenario) LiftedAt(t float64) bool {
	if s == nil {
		return false
	}
	for _, d := range s.Disturbances {
		if d.Kind == Lift && d.Active(t) {
			return true
		}
	}
	return false
}

// MonteCarloConfig defines randomized push scenarios
type MonteCarloConfig struct {
	NumTrials    int
	PushesPerRun int
	Horizon      float64 // seconds over which pushes are spread
	PushDuration float64
	MaxMagnitude float64
	MaxPitch     float64 // initial pitch drawn in [-MaxPitch, MaxPitch]
	Seed         int64
}

// MonteCarloScenarios draws NumTrials scenarios with random initial pitch
// and random pushes. A zero seed uses the current time.
func MonteCarloScenarios(cfg MonteCarloConfig) []*Scenario {
	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	scenarios := make([]*Scenario, 0, cfg.NumTrials)
	for trial := 0; trial < cfg.NumTrials; trial++ {
		s := &Scenario{
			Name:         fmt.Sprintf("monte-carlo-%d", trial),
			InitialPitch: (rng.Float64() - 0.5) * 2 * cfg.MaxPitch,
		}
		for i := 0; i < cfg.PushesPerRun; i++ {
			s.Disturbances = append(s.Disturbances, Disturbance{
				Kind:      Push,
				Start:     rng.Float64() * cfg.Horizon,
				Duration:  cfg.PushDuration,
				Magnitude: (rng.Float64() - 0.5) * 2 * cfg.MaxMagnitude,
			})
		}
		scenarios = append(scenarios, s)
	}
	return scenarios
}

// TrialResult is the outcome of a balancing run under one scenario.
type TrialResult struct {
	Scenario  string
	Fell      bool
	MaxPitch  float64
	MeanPitch float64
}

// MonteCarloStats counts trials that stayed up and trials that fell.
func MonteCarloStats(results []TrialResult) (stableCount int, unstableCount int) {
	for _, r := range results {
		if r.Fell {
			unstableCount++
		} else {
			stableCount++
		}
	}
	return
}
