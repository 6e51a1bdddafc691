package mpc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrInvalidProblem = errors.New("invalid MPC problem")

// Problem is a linear MPC problem with dynamics x_{k+1} = A x_k + B u_k,
// stage constraints C x_k + D u_k <= e for k < N, and cost
//
//	wT ||x_N - goal||² + wX Σ ||x_k - target_k||² + wU Σ ||u_k||²
//
// up to a factor ½.
type Problem struct {
	TransitionStateMatrix *mat.Dense
	TransitionInputMatrix *mat.Dense

	// Optional. Either matrix may be nil when the constraint does not
	// depend on states or inputs.
	IneqStateMatrix *mat.Dense
	IneqInputMatrix *mat.Dense
	IneqVector      []float64

	InitialState []float64
	GoalState    []float64
	// TargetStates stacks the N stage targets x_0 ... x_{N-1}.
	TargetStates []float64

	NbTimesteps          int
	TerminalCostWeight   float64
	StageStateCostWeight float64
	StageInputCostWeight float64
}

// StateDim is the dimension nx of a state.
func (p *Problem) StateDim() int {
	r, _ := p.TransitionStateMatrix.Dims()
	return r
}

// InputDim is the dimension nu of an input.
func (p *Problem) InputDim() int {
	_, c := p.TransitionInputMatrix.Dims()
	return c
}

// NbIneq is the number of inequality constraints per stage.
func (p *Problem) NbIneq() int {
	return len(p.IneqVector)
}

func (p *Problem) Validate() error {
	if p.TransitionStateMatrix == nil || p.TransitionInputMatrix == nil {
		return fmt.Errorf("%w: transition matrices are required", ErrInvalidProblem)
	}
	ar, ac := p.TransitionStateMatrix.Dims()
	if ar != ac {
		return fmt.Errorf("%w: state transition matrix is %dx%d", ErrInvalidProblem, ar, ac)
	}
	nx := ar
	if br, _ := p.TransitionInputMatrix.Dims(); br != nx {
		return fmt.Errorf("%w: input transition matrix has %d rows, expected %d", ErrInvalidProblem, br, nx)
	}
	nu := p.InputDim()
	if p.NbTimesteps < 1 {
		return fmt.Errorf("%w: horizon must have at least one timestep", ErrInvalidProblem)
	}
	if p.TerminalCostWeight < 0 || p.StageStateCostWeight < 0 || p.StageInputCostWeight < 0 {
		return fmt.Errorf("%w: cost weights must be nonnegative", ErrInvalidProblem)
	}

	nc := p.NbIneq()
	if p.IneqStateMatrix != nil {
		r, c := p.IneqStateMatrix.Dims()
		if r != nc || c != nx {
			return fmt.Errorf("%w: state inequality matrix is %dx%d, expected %dx%d", ErrInvalidProblem, r, c, nc, nx)
		}
	}
	if p.IneqInputMatrix != nil {
		r, c := p.IneqInputMatrix.Dims()
		if r != nc || c != nu {
			return fmt.Errorf("%w: input inequality matrix is %dx%d, expected %dx%d", ErrInvalidProblem, r, c, nc, nu)
		}
	}
	if nc > 0 && p.IneqStateMatrix == nil && p.IneqInputMatrix == nil {
		return fmt.Errorf("%w: inequality vector without matrix", ErrInvalidProblem)
	}

	if len(p.InitialState) != nx {
		return fmt.Errorf("%w: initial state has %d entries, expected %d", ErrInvalidProblem, len(p.InitialState), nx)
	}
	if len(p.GoalState) != nx {
		return fmt.Errorf("%w: goal state has %d entries, expected %d", ErrInvalidProblem, len(p.GoalState), nx)
	}
	if len(p.TargetStates) != p.NbTimesteps*nx {
		return fmt.Errorf("%w: target states have %d entries, expected %d", ErrInvalidProblem, len(p.TargetStates), p.NbTimesteps*nx)
	}
	return nil
}

func (p *Problem) UpdateInitialState(x0 []float64) error {
	return update(p.InitialState, x0, "initial state")
}

func (p *Problem) UpdateGoalState(goal []float64) error {
	return update(p.GoalState, goal, "goal state")
}

func (p *Problem) UpdateTargetStates(targets []float64) error {
	return update(p.TargetStates, targets, "target states")
}

func update(dst, src []float64, what string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s has %d entries, expected %d", ErrInvalidProblem, what, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
