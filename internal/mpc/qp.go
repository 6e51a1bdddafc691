package mpc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/stephane-caron/proxqp-balancer/internal/qp"
)

// QP is the condensed quadratic program of an MPC problem, with the input
// sequence U = [u_0 ... u_{N-1}] as decision variable.
type QP struct {
	// Phi is (N+1)nx × nx and Psi is (N+1)nx × N nu.
	Phi *mat.Dense
	Psi *mat.Dense

	Problem *qp.Problem

	nx, nu, nc, horizon int
	// cbar is the stage state constraint matrix applied to the stacked
	// trajectory, nil without state constraints.
	cbar *mat.Dense
	ebar []float64
}

// NewQP builds the condensed QP of problem at its current initial state.
func NewQP(problem *Problem) (*QP, error) {
	if err := problem.Validate(); err != nil {
		return nil, err
	}
	nx := problem.StateDim()
	nu := problem.InputDim()
	nc := problem.NbIneq()
	N := problem.NbTimesteps

	m := &QP{nx: nx, nu: nu, nc: nc, horizon: N}
	m.buildPrediction(problem)

	P := mat.NewSymDense(N*nu, nil)
	psiN := m.Psi.Slice(N*nx, (N+1)*nx, 0, N*nu)
	psiS := m.Psi.Slice(0, N*nx, 0, N*nu)
	P.SymOuterK(problem.TerminalCostWeight, psiN.T())
	P.SymRankK(P, problem.StageStateCostWeight, psiS.T())
	for i := 0; i < N*nu; i++ {
		P.SetSym(i, i, P.At(i, i)+problem.StageInputCostWeight)
	}

	m.Problem = &qp.Problem{P: P, Q: make([]float64, N*nu)}
	if nc > 0 {
		m.buildConstraints(problem)
	}
	if err := m.UpdateCostVector(problem); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *QP) buildPrediction(problem *Problem) {
	nx, nu, N := m.nx, m.nu, m.horizon
	A := problem.TransitionStateMatrix
	B := problem.TransitionInputMatrix

	m.Phi = mat.NewDense((N+1)*nx, nx, nil)
	m.Psi = mat.NewDense((N+1)*nx, N*nu, nil)

	power := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		power.Set(i, i, 1)
	}
	// powersB[k] = A^k B
	powersB := make([]*mat.Dense, N)
	for k := 0; k <= N; k++ {
		m.Phi.Slice(k*nx, (k+1)*nx, 0, nx).(*mat.Dense).Copy(power)
		if k < N {
			powersB[k] = mat.NewDense(nx, nu, nil)
			powersB[k].Mul(power, B)
			next := mat.NewDense(nx, nx, nil)
			next.Mul(A, power)
			power = next
		}
	}
	for k := 1; k <= N; k++ {
		for j := 0; j < k; j++ {
			block := m.Psi.Slice(k*nx, (k+1)*nx, j*nu, (j+1)*nu).(*mat.Dense)
			block.Copy(powersB[k-1-j])
		}
	}
}

func (m *QP) buildConstraints(problem *Problem) {
	nx, nu, nc, N := m.nx, m.nu, m.nc, m.horizon
	G := mat.NewDense(N*nc, N*nu, nil)
	m.ebar = make([]float64, N*nc)
	for k := 0; k < N; k++ {
		copy(m.ebar[k*nc:(k+1)*nc], problem.IneqVector)
		if D := problem.IneqInputMatrix; D != nil {
			G.Slice(k*nc, (k+1)*nc, k*nu, (k+1)*nu).(*mat.Dense).Copy(D)
		}
	}
	if C := problem.IneqStateMatrix; C != nil {
		m.cbar = mat.NewDense(N*nc, (N+1)*nx, nil)
		for k := 0; k < N; k++ {
			m.cbar.Slice(k*nc, (k+1)*nc, k*nx, (k+1)*nx).(*mat.Dense).Copy(C)
		}
		var cpsi mat.Dense
		cpsi.Mul(m.cbar, m.Psi)
		G.Add(G, &cpsi)
	}
	m.Problem.G = G
	m.Problem.H = make([]float64, N*nc)
	copy(m.Problem.H, m.ebar)
}

// UpdateCostVector refreshes the cost vector, and the inequality vector
// when there are state constraints, from the initial state, goal and
// targets of problem. The QP matrices are left untouched.
func (m *QP) UpdateCostVector(problem *Problem) error {
	if problem.StateDim() != m.nx || problem.InputDim() != m.nu || problem.NbTimesteps != m.horizon {
		return fmt.Errorf("%w: problem does not match the QP it updates", ErrInvalidProblem)
	}
	if len(problem.InitialState) != m.nx || len(problem.GoalState) != m.nx || len(problem.TargetStates) != m.horizon*m.nx {
		return fmt.Errorf("%w: state vectors do not match dimensions", ErrInvalidProblem)
	}
	nx, N := m.nx, m.horizon
	x0 := mat.NewVecDense(nx, problem.InitialState)

	// Free response Φ x0 over the horizon.
	free := mat.NewVecDense((N+1)*nx, nil)
	free.MulVec(m.Phi, x0)

	terminal := mat.NewVecDense(nx, nil)
	terminal.SubVec(free.SliceVec(N*nx, (N+1)*nx), mat.NewVecDense(nx, problem.GoalState))
	stage := mat.NewVecDense(N*nx, nil)
	stage.SubVec(free.SliceVec(0, N*nx), mat.NewVecDense(N*nx, problem.TargetStates))

	psiN := m.Psi.Slice(N*nx, (N+1)*nx, 0, N*m.nu)
	psiS := m.Psi.Slice(0, N*nx, 0, N*m.nu)
	q := mat.NewVecDense(N*m.nu, m.Problem.Q)
	q.MulVec(psiN.T(), terminal)
	q.ScaleVec(problem.TerminalCostWeight, q)
	var stageTerm mat.VecDense
	stageTerm.MulVec(psiS.T(), stage)
	q.AddScaledVec(q, problem.StageStateCostWeight, &stageTerm)

	if m.cbar != nil {
		h := mat.NewVecDense(N*m.nc, m.Problem.H)
		h.MulVec(m.cbar, free)
		h.ScaleVec(-1, h)
		h.AddVec(h, mat.NewVecDense(N*m.nc, m.ebar))
	}
	return nil
}

// Shape is the size of a QP matrix or vector. Vectors have Cols == 0.
type Shape struct {
	Name string
	Rows int
	Cols int
}

func (s Shape) String() string {
	if s.Cols == 0 {
		return fmt.Sprintf("%s.shape=(%d,)", s.Name, s.Rows)
	}
	return fmt.Sprintf("%s.shape=(%d, %d)", s.Name, s.Rows, s.Cols)
}

// Shapes lists the sizes of P, q, G, h, Phi and Psi.
func (m *QP) Shapes() []Shape {
	pr, pc := m.Problem.P.Dims()
	gr, gc := 0, m.horizon*m.nu
	if m.Problem.G != nil {
		gr, gc = m.Problem.G.Dims()
	}
	phr, phc := m.Phi.Dims()
	psr, psc := m.Psi.Dims()
	return []Shape{
		{Name: "P", Rows: pr, Cols: pc},
		{Name: "q", Rows: len(m.Problem.Q)},
		{Name: "G", Rows: gr, Cols: gc},
		{Name: "h", Rows: len(m.Problem.H)},
		{Name: "Phi", Rows: phr, Cols: phc},
		{Name: "Psi", Rows: psr, Cols: psc},
	}
}
