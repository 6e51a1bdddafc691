package metrics

import (
	"math"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
)

// Energy is the peak pendulum energy magnitude away from the upright
// equilibrium, where the energy is zero.
type Energy struct {
	name string
	sys  dynamo.Hamiltonian
	peak float64
}

func NewEnergy(sys dynamo.Hamiltonian) *Energy {
	return &Energy{
		name: "peak_energy",
		sys:  sys,
	}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if e.sys == nil {
		return
	}
	e.peak = math.Max(e.peak, math.Abs(e.sys.Energy(x)))
}

func (e *Energy) Value() float64 {
	return e.peak
}

func (e *Energy) Reset() {
	e.peak = 0
}
