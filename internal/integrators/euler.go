package integrators

import "github.com/stephane-caron/proxqp-balancer/internal/dynamo"

// Euler is the explicit forward Euler scheme. It is only kept to compare
// against RK4 in tests and benchmarks.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t float64, dt float64) dynamo.State {
	dx := dyn.Derive(x, u, t)
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}
