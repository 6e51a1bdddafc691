package qp

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusSolved           Status = "solved"
	StatusMaxIterReached   Status = "max_iter_reached"
	StatusPrimalInfeasible Status = "primal_infeasible"
	StatusNumericalError   Status = "numerical_error"
)

// Solution of a QP. Z holds one nonnegative multiplier per row of G.
type Solution struct {
	X          []float64
	Z          []float64
	Found      bool
	Status     Status
	Iterations int
	SolveTime  time.Duration
	Objective  float64

	PrimalResidual float64
	DualResidual   float64
}

func (s *Solution) String() string {
	return fmt.Sprintf("%s after %d iterations in %v (objective %.6g, primal residual %.2e, dual residual %.2e)",
		s.Status, s.Iterations, s.SolveTime, s.Objective, s.PrimalResidual, s.DualResidual)
}

func failed(status Status, n, m, iterations int) *Solution {
	return &Solution{
		X:          make([]float64, n),
		Z:          make([]float64, m),
		Status:     status,
		Iterations: iterations,
	}
}
