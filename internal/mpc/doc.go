// Package mpc formulates linear model predictive control problems and
// condenses them into quadratic programs over the input sequence.
//
// The state trajectory over a horizon of N steps is predicted from the
// initial state x0 and the stacked inputs U as
//
//	X = Φ x0 + Ψ U
//
// so that state costs and constraints become functions of U only. When x0,
// the goal or the targets change, only the cost vector of the QP (and the
// inequality vector if there are state constraints) needs to be updated.
package mpc
