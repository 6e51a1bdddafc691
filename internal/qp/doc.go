// Package qp solves the dense convex quadratic programs produced by the
// model predictive controller:
//
//	minimize    ½ xᵀ P x + qᵀ x
//	subject to  G x <= h
//
// Solvers are exposed as warm-startable [Workspace] values. A workspace is
// built once from an initial [Problem] and assumes that only the cost
// vector changes afterwards, which is the case when the balancer updates
// its initial state at every control step.
//
// Four algorithm families are available, registered under the name of the
// backend they follow:
//
//   - "proxqp": primal-dual proximal augmented Lagrangian
//   - "qpalm": proximal augmented Lagrangian with per-constraint penalties
//   - "hpipm": primal-dual interior point (Mehrotra predictor-corrector)
//   - "osqp": ADMM operator splitting
//
// [SolveProblem] runs a cold, one-shot solve for callers that do not keep a
// workspace around.
package qp
