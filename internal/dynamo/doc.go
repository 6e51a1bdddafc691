// Package dynamo provides core primitives for simulating the balancing robot.
//
// The package defines the fundamental interfaces and types for numerical
// simulation of ordinary differential equations (ODEs):
//
//   - [State]: vector representing system state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical integrator interface
//
// The simulated spine integrates a [System] with an [Integrator] at the
// spine frequency; the balancer never sees these types directly.
package dynamo
