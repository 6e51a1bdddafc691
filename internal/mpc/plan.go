package mpc

import (
	"gonum.org/v1/gonum/mat"

	"github.com/stephane-caron/proxqp-balancer/internal/qp"
)

// Plan is the input trajectory found by a QP solver, together with the
// state trajectory it produces from the problem's initial state.
type Plan struct {
	problem *Problem
	inputs  []float64
}

// NewPlan wraps a solution. A nil or unsuccessful solution yields an empty
// plan.
func NewPlan(problem *Problem, sol *qp.Solution) *Plan {
	plan := &Plan{problem: problem}
	if sol != nil && sol.Found {
		plan.inputs = append([]float64(nil), sol.X...)
	}
	return plan
}

func (p *Plan) IsEmpty() bool {
	return p.inputs == nil
}

// FirstInput is the input to apply now, nil for an empty plan.
func (p *Plan) FirstInput() []float64 {
	if p.IsEmpty() {
		return nil
	}
	nu := p.problem.InputDim()
	return append([]float64(nil), p.inputs[:nu]...)
}

// Inputs returns the N × nu input trajectory.
func (p *Plan) Inputs() *mat.Dense {
	if p.IsEmpty() {
		return nil
	}
	return mat.NewDense(p.problem.NbTimesteps, p.problem.InputDim(), append([]float64(nil), p.inputs...))
}

// States integrates the linear dynamics to return the (N+1) × nx state
// trajectory, starting from the initial state.
func (p *Plan) States() *mat.Dense {
	if p.IsEmpty() {
		return nil
	}
	nx := p.problem.StateDim()
	nu := p.problem.InputDim()
	N := p.problem.NbTimesteps
	A := p.problem.TransitionStateMatrix
	B := p.problem.TransitionInputMatrix

	states := mat.NewDense(N+1, nx, nil)
	states.SetRow(0, p.problem.InitialState)
	x := mat.NewVecDense(nx, append([]float64(nil), p.problem.InitialState...))
	for k := 0; k < N; k++ {
		u := mat.NewVecDense(nu, p.inputs[k*nu:(k+1)*nu])
		var ax, bu mat.VecDense
		ax.MulVec(A, x)
		bu.MulVec(B, u)
		x.AddVec(&ax, &bu)
		states.SetRow(k+1, x.RawVector().Data)
	}
	return states
}

// SolveMPC builds the QP of problem from scratch and solves it cold.
func SolveMPC(problem *Problem, solver string) (*Plan, error) {
	m, err := NewQP(problem)
	if err != nil {
		return nil, err
	}
	sol, err := qp.SolveProblem(m.Problem, solver)
	if err != nil {
		return nil, err
	}
	return NewPlan(problem, sol), nil
}
