package qp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrUnknownSolver = errors.New("unknown QP solver")
	ErrDimension     = errors.New("QP dimension mismatch")
	ErrProxQPOnly    = errors.New("only tested with ProxQP")
)

// Problem is a quadratic program in standard inequality form:
//
//	minimize ½ xᵀ P x + qᵀ x  subject to  G x <= h
//
// G and H may be empty for an unconstrained problem.
type Problem struct {
	P *mat.SymDense
	Q []float64
	G *mat.Dense
	H []float64
}

// Dims returns the number of variables and inequality constraints.
func (p *Problem) Dims() (n, m int) {
	n = len(p.Q)
	if p.G != nil {
		m, _ = p.G.Dims()
	}
	return n, m
}

// Check validates that all fields agree in size.
func (p *Problem) Check() error {
	if p.P == nil {
		return fmt.Errorf("%w: cost matrix is nil", ErrDimension)
	}
	n := p.P.SymmetricDim()
	if n == 0 {
		return fmt.Errorf("%w: problem has no variable", ErrDimension)
	}
	if len(p.Q) != n {
		return fmt.Errorf("%w: cost vector has %d entries, expected %d", ErrDimension, len(p.Q), n)
	}
	if p.G == nil {
		if len(p.H) != 0 {
			return fmt.Errorf("%w: %d inequality bounds without matrix", ErrDimension, len(p.H))
		}
		return nil
	}
	r, c := p.G.Dims()
	if c != n {
		return fmt.Errorf("%w: inequality matrix has %d columns, expected %d", ErrDimension, c, n)
	}
	if len(p.H) != r {
		return fmt.Errorf("%w: inequality vector has %d entries, expected %d", ErrDimension, len(p.H), r)
	}
	return nil
}

// Objective evaluates ½ xᵀ P x + qᵀ x.
func (p *Problem) Objective(x []float64) float64 {
	n := len(x)
	px := make([]float64, n)
	mulVec(px, p.P, x)
	return 0.5*floats.Dot(x, px) + floats.Dot(p.Q, x)
}

// Violation returns the largest violation max(Gx - h, 0) of the
// inequality constraints.
func (p *Problem) Violation(x []float64) float64 {
	_, m := p.Dims()
	if m == 0 {
		return 0
	}
	gx := make([]float64, m)
	mulVec(gx, p.G, x)
	worst := 0.0
	for i := range gx {
		if v := gx[i] - p.H[i]; v > worst {
			worst = v
		}
	}
	return worst
}
