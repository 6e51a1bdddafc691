// Package metrics accumulates statistics over balancing runs.
package metrics

import "github.com/stephane-caron/proxqp-balancer/internal/dynamo"

// Metric observes the pendulum state and the applied ground acceleration
// at every control step.
type Metric interface {
	Name() string
	Observe(x dynamo.State, u dynamo.Control, t float64)
	Value() float64
	Reset()
}

// Standard returns the metrics recorded for every run.
func Standard(sys dynamo.Hamiltonian, pitchThreshold float64) []Metric {
	return []Metric{
		NewControlEffort(),
		NewStability(pitchThreshold),
		NewEnergy(sys),
	}
}
