// Package physics provides the wheeled inverted pendulum model of the robot.
//
// [WheeledInvertedPendulum] serves two purposes:
//
//   - it implements [dynamo.System] with the nonlinear pitch dynamics, which
//     the simulated spine integrates at its own frequency;
//   - it provides the discretized linear model and the MPC problem that the
//     balancer plans with.
//
// The model also implements [dynamo.Hamiltonian] for energy monitoring.
package physics
