// Package control provides the feedback laws and signal filters used by the
// balancer besides MPC.
//
// Controllers map the wheeled pendulum state to a ground acceleration:
//
//   - [PID]: pitch feedback with optional ground position feedback
//   - [LQR]: infinite-horizon regulator on the discretized model
//   - [None]: zero acceleration, for fall and reset checks
package control
