package mpc

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/stephane-caron/proxqp-balancer/internal/qp"
)

// doubleIntegrator returns a problem on x = [position, velocity] with
// bounded acceleration.
func doubleIntegrator(N int, dt, maxAccel float64) *Problem {
	return &Problem{
		TransitionStateMatrix: mat.NewDense(2, 2, []float64{1, dt, 0, 1}),
		TransitionInputMatrix: mat.NewDense(2, 1, []float64{dt * dt / 2, dt}),
		IneqInputMatrix:       mat.NewDense(2, 1, []float64{1, -1}),
		IneqVector:            []float64{maxAccel, maxAccel},
		InitialState:          []float64{0, 0},
		GoalState:             []float64{0, 0},
		TargetStates:          make([]float64, N*2),
		NbTimesteps:           N,
		TerminalCostWeight:    1,
		StageStateCostWeight:  1e-2,
		StageInputCostWeight:  1e-3,
	}
}

func TestPredictionMatrices(t *testing.T) {
	a, b := 0.9, 0.5
	problem := &Problem{
		TransitionStateMatrix: mat.NewDense(1, 1, []float64{a}),
		TransitionInputMatrix: mat.NewDense(1, 1, []float64{b}),
		InitialState:          []float64{1},
		GoalState:             []float64{0},
		TargetStates:          make([]float64, 3),
		NbTimesteps:           3,
		TerminalCostWeight:    1,
		StageInputCostWeight:  1,
	}
	m, err := NewQP(problem)
	if err != nil {
		t.Fatal(err)
	}
	for k := 0; k <= 3; k++ {
		if got, want := m.Phi.At(k, 0), math.Pow(a, float64(k)); math.Abs(got-want) > 1e-12 {
			t.Errorf("Phi[%d] = %g, want %g", k, got, want)
		}
		for j := 0; j < 3; j++ {
			want := 0.0
			if j < k {
				want = math.Pow(a, float64(k-1-j)) * b
			}
			if got := m.Psi.At(k, j); math.Abs(got-want) > 1e-12 {
				t.Errorf("Psi[%d][%d] = %g, want %g", k, j, got, want)
			}
		}
	}
	if m.Problem.G != nil {
		t.Error("unconstrained problem should have no inequality matrix")
	}
}

func TestPlanStatesMatchPrediction(t *testing.T) {
	problem := doubleIntegrator(5, 0.1, 10)
	problem.InitialState = []float64{0.3, -0.2}
	m, err := NewQP(problem)
	if err != nil {
		t.Fatal(err)
	}
	inputs := []float64{1, -2, 0.5, 0, 3}
	plan := NewPlan(problem, &qp.Solution{X: inputs, Found: true})

	var predicted mat.VecDense
	predicted.MulVec(m.Psi, mat.NewVecDense(5, inputs))
	var free mat.VecDense
	free.MulVec(m.Phi, mat.NewVecDense(2, problem.InitialState))
	predicted.AddVec(&predicted, &free)

	states := plan.States()
	rows, cols := states.Dims()
	if rows != 6 || cols != 2 {
		t.Fatalf("States is %dx%d, want 6x2", rows, cols)
	}
	for k := 0; k < rows; k++ {
		for i := 0; i < cols; i++ {
			if got, want := states.At(k, i), predicted.AtVec(2*k+i); math.Abs(got-want) > 1e-12 {
				t.Errorf("state %d[%d] = %g, want %g", k, i, got, want)
			}
		}
	}
	if got := plan.FirstInput(); len(got) != 1 || got[0] != 1 {
		t.Errorf("FirstInput = %v, want [1]", got)
	}
	if r, c := plan.Inputs().Dims(); r != 5 || c != 1 {
		t.Errorf("Inputs is %dx%d, want 5x1", r, c)
	}
}

func TestEmptyPlan(t *testing.T) {
	problem := doubleIntegrator(3, 0.1, 1)
	for _, sol := range []*qp.Solution{nil, {X: []float64{1, 2, 3}, Found: false}} {
		plan := NewPlan(problem, sol)
		if !plan.IsEmpty() {
			t.Error("plan should be empty")
		}
		if plan.FirstInput() != nil || plan.Inputs() != nil || plan.States() != nil {
			t.Error("empty plan should have no trajectories")
		}
	}
}

func TestUpdateCostVectorMatchesRebuild(t *testing.T) {
	problem := doubleIntegrator(8, 0.05, 2)
	m, err := NewQP(problem)
	if err != nil {
		t.Fatal(err)
	}
	P := mat.DenseCopyOf(m.Problem.P)

	if err := problem.UpdateInitialState([]float64{0.5, 0.1}); err != nil {
		t.Fatal(err)
	}
	if err := problem.UpdateGoalState([]float64{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateCostVector(problem); err != nil {
		t.Fatal(err)
	}
	fresh, err := NewQP(problem)
	if err != nil {
		t.Fatal(err)
	}
	for i := range fresh.Problem.Q {
		if math.Abs(fresh.Problem.Q[i]-m.Problem.Q[i]) > 1e-12 {
			t.Errorf("q[%d] = %g, want %g", i, m.Problem.Q[i], fresh.Problem.Q[i])
		}
	}
	if !mat.Equal(P, m.Problem.P) {
		t.Error("UpdateCostVector changed the cost matrix")
	}
}

func TestStateConstraintsUpdateInequalityVector(t *testing.T) {
	problem := doubleIntegrator(4, 0.1, 5)
	// velocity <= 1 at every stage, on top of the acceleration bounds.
	problem.IneqStateMatrix = mat.NewDense(3, 2, []float64{0, 0, 0, 0, 0, 1})
	problem.IneqInputMatrix = mat.NewDense(3, 1, []float64{1, -1, 0})
	problem.IneqVector = []float64{5, 5, 1}
	m, err := NewQP(problem)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := m.Problem.G.Dims(); r != 12 || c != 4 {
		t.Fatalf("G is %dx%d, want 12x4", r, c)
	}
	if m.Problem.H[2] != 1 {
		t.Errorf("h[2] = %g at rest, want 1", m.Problem.H[2])
	}

	problem.InitialState[1] = 0.4
	if err := m.UpdateCostVector(problem); err != nil {
		t.Fatal(err)
	}
	// Velocity stays 0.4 at every stage without input.
	for k := 0; k < 4; k++ {
		if got := m.Problem.H[3*k+2]; math.Abs(got-0.6) > 1e-12 {
			t.Errorf("h[%d] = %g, want 0.6", 3*k+2, got)
		}
	}
	// Input rows are independent of the state.
	if m.Problem.H[0] != 5 || m.Problem.H[1] != 5 {
		t.Errorf("acceleration bounds changed: %v", m.Problem.H[:2])
	}
}

func TestShapes(t *testing.T) {
	m, err := NewQP(doubleIntegrator(10, 0.1, 1))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"P.shape=(10, 10)",
		"q.shape=(10,)",
		"G.shape=(20, 10)",
		"h.shape=(20,)",
		"Phi.shape=(22, 2)",
		"Psi.shape=(22, 10)",
	}
	shapes := m.Shapes()
	for i, s := range shapes {
		if s.String() != want[i] {
			t.Errorf("shape %d = %s, want %s", i, s, want[i])
		}
	}
}

func TestSolveMPCDrivesTowardsGoal(t *testing.T) {
	problem := doubleIntegrator(20, 0.1, 2)
	problem.InitialState = []float64{1, 0}
	for _, solver := range []string{"proxqp", "qpalm", "hpipm", "osqp"} {
		t.Run(solver, func(t *testing.T) {
			plan, err := SolveMPC(problem, solver)
			if err != nil {
				t.Fatal(err)
			}
			if plan.IsEmpty() {
				t.Fatal("no plan found")
			}
			if u := plan.FirstInput()[0]; u >= 0 {
				t.Errorf("first acceleration = %g, want negative to move back", u)
			}
			inputs := plan.Inputs()
			for k := 0; k < 20; k++ {
				if math.Abs(inputs.At(k, 0)) > 2+1e-2 {
					t.Errorf("input %d = %g exceeds bound", k, inputs.At(k, 0))
				}
			}
			states := plan.States()
			if final := math.Abs(states.At(20, 0)); final > 0.5 {
				t.Errorf("final position %g did not approach the goal", final)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Problem)
	}{
		{"no horizon", func(p *Problem) { p.NbTimesteps = 0 }},
		{"negative weight", func(p *Problem) { p.StageInputCostWeight = -1 }},
		{"short initial state", func(p *Problem) { p.InitialState = []float64{0} }},
		{"short goal", func(p *Problem) { p.GoalState = nil }},
		{"short targets", func(p *Problem) { p.TargetStates = p.TargetStates[:2] }},
		{"non-square A", func(p *Problem) { p.TransitionStateMatrix = mat.NewDense(2, 3, nil) }},
		{"B rows", func(p *Problem) { p.TransitionInputMatrix = mat.NewDense(3, 1, nil) }},
		{"inequality rows", func(p *Problem) { p.IneqVector = []float64{1} }},
		{"vector without matrix", func(p *Problem) { p.IneqInputMatrix = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := doubleIntegrator(3, 0.1, 1)
			tt.modify(p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidProblem) {
				t.Errorf("Validate() = %v, want ErrInvalidProblem", err)
			}
		})
	}
	if err := doubleIntegrator(3, 0.1, 1).Validate(); err != nil {
		t.Errorf("Validate() = %v on a valid problem", err)
	}
}

func TestUpdateRejectsWrongLength(t *testing.T) {
	p := doubleIntegrator(3, 0.1, 1)
	if err := p.UpdateInitialState([]float64{1, 2, 3}); !errors.Is(err, ErrInvalidProblem) {
		t.Errorf("UpdateInitialState error = %v", err)
	}
	if err := p.UpdateTargetStates(make([]float64, 5)); !errors.Is(err, ErrInvalidProblem) {
		t.Errorf("UpdateTargetStates error = %v", err)
	}
}
