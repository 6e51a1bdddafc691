package qp

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var backends = []string{"proxqp", "qpalm", "hpipm", "osqp"}

func tightSettings() Settings {
	s := DefaultSettings()
	s.ProxQP.EpsAbs = 1e-8
	s.QPALM.EpsAbs = 1e-8
	s.HPIPM.EpsAbs = 1e-8
	s.HPIPM.Mode = ModeRobust
	s.OSQP.EpsAbs = 1e-7
	return s
}

// boxProblem has its minimum at (0.3, 0.7) with objective 1.88, where
// x0 + x1 >= 1 and x1 <= 0.7 are active.
func boxProblem() *Problem {
	return &Problem{
		P: mat.NewSymDense(2, []float64{4, 1, 1, 2}),
		Q: []float64{1, 1},
		G: mat.NewDense(5, 2, []float64{
			-1, -1,
			1, 0,
			-1, 0,
			0, 1,
			0, -1,
		}),
		H: []float64{-1, 0.7, 0, 0.7, 0},
	}
}

func TestSolversUnconstrained(t *testing.T) {
	prob := &Problem{
		P: mat.NewSymDense(2, []float64{2, 0, 0, 4}),
		Q: []float64{-2, -4},
	}
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			ws, err := New(name, prob, tightSettings())
			require.NoError(t, err)
			sol, err := ws.Solve(prob)
			require.NoError(t, err)
			require.True(t, sol.Found, sol.String())
			assert.InDelta(t, 1.0, sol.X[0], 1e-5)
			assert.InDelta(t, 1.0, sol.X[1], 1e-5)
			assert.InDelta(t, -3.0, sol.Objective, 1e-5)
		})
	}
}

func TestSolversActiveBound(t *testing.T) {
	prob := &Problem{
		P: mat.NewSymDense(2, []float64{2, 0, 0, 4}),
		Q: []float64{-2, -4},
		G: mat.NewDense(1, 2, []float64{1, 0}),
		H: []float64{0.5},
	}
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			ws, err := New(name, prob, tightSettings())
			require.NoError(t, err)
			sol, err := ws.Solve(prob)
			require.NoError(t, err)
			require.True(t, sol.Found, sol.String())
			assert.InDelta(t, 0.5, sol.X[0], 1e-4)
			assert.InDelta(t, 1.0, sol.X[1], 1e-4)
			// Stationarity in x0: 2 x0 - 2 + z = 0.
			require.Len(t, sol.Z, 1)
			assert.InDelta(t, 1.0, sol.Z[0], 1e-3)
		})
	}
}

func TestSolversBoxProblem(t *testing.T) {
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			prob := boxProblem()
			ws, err := New(name, prob, tightSettings())
			require.NoError(t, err)
			sol, err := ws.Solve(prob)
			require.NoError(t, err)
			require.True(t, sol.Found, sol.String())
			assert.InDelta(t, 0.3, sol.X[0], 1e-4)
			assert.InDelta(t, 0.7, sol.X[1], 1e-4)
			assert.InDelta(t, 1.88, sol.Objective, 1e-4)
			assert.Less(t, prob.Violation(sol.X), 1e-4)
			for _, z := range sol.Z {
				assert.GreaterOrEqual(t, z, 0.0)
			}
		})
	}
}

func TestWarmStartAfterCostUpdate(t *testing.T) {
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			prob := boxProblem()
			ws, err := New(name, prob, tightSettings())
			require.NoError(t, err)
			_, err = ws.Solve(prob)
			require.NoError(t, err)

			// Moving the cost pulls the minimum to the x1 >= 0 corner:
			// minimize on x0 + x1 = 1 with x0 <= 0.7.
			prob.Q = []float64{-10, 10}
			sol, err := ws.Solve(prob)
			require.NoError(t, err)
			require.True(t, sol.Found, sol.String())
			assert.InDelta(t, 0.7, sol.X[0], 1e-4)
			assert.InDelta(t, 0.3, sol.X[1], 1e-4)
		})
	}
}

func TestSolveProblemAgreesAcrossBackends(t *testing.T) {
	prob := boxProblem()
	var reference []float64
	for _, name := range backends {
		sol, err := SolveProblem(prob, name)
		require.NoError(t, err)
		require.True(t, sol.Found, "%s: %s", name, sol.String())
		if reference == nil {
			reference = sol.X
			continue
		}
		for i := range reference {
			assert.InDelta(t, reference[i], sol.X[i], 1e-2, name)
		}
	}
}

func TestNonConvexProblem(t *testing.T) {
	prob := &Problem{
		P: mat.NewSymDense(2, []float64{-1, 0, 0, 1}),
		Q: []float64{1, 1},
	}
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			sol, err := SolveProblem(prob, name)
			require.NoError(t, err)
			assert.False(t, sol.Found)
			assert.Equal(t, StatusNumericalError, sol.Status)
		})
	}
}

func TestUnknownSolver(t *testing.T) {
	_, err := New("quadprog", boxProblem(), DefaultSettings())
	assert.True(t, errors.Is(err, ErrUnknownSolver))

	_, err = SolveProblem(boxProblem(), "")
	assert.ErrorIs(t, err, ErrUnknownSolver)
}

func TestProxSuiteAlias(t *testing.T) {
	ws, err := New("proxsuite", boxProblem(), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "proxqp", ws.Name())
}

func TestAvailableIsSorted(t *testing.T) {
	assert.Equal(t, []string{"hpipm", "osqp", "proxqp", "proxsuite", "qpalm"}, Available())
}

func TestSolveRejectsResizedProblem(t *testing.T) {
	for _, name := range backends {
		t.Run(name, func(t *testing.T) {
			ws, err := New(name, boxProblem(), DefaultSettings())
			require.NoError(t, err)
			smaller := &Problem{
				P: mat.NewSymDense(1, []float64{1}),
				Q: []float64{0},
			}
			_, err = ws.Solve(smaller)
			assert.ErrorIs(t, err, ErrDimension)
		})
	}
}

func TestInvalidHPIPMMode(t *testing.T) {
	s := DefaultSettings()
	s.HPIPM.Mode = "fastest"
	_, err := New("hpipm", boxProblem(), s)
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestHPIPMModes(t *testing.T) {
	for _, mode := range []string{ModeSpeedAbs, ModeSpeed, ModeBalance, ModeRobust} {
		t.Run(mode, func(t *testing.T) {
			s := DefaultSettings()
			s.HPIPM.Mode = mode
			s.HPIPM.EpsAbs = 1e-6
			prob := boxProblem()
			ws, err := New("hpipm", prob, s)
			require.NoError(t, err)
			sol, err := ws.Solve(prob)
			require.NoError(t, err)
			if !sol.Found {
				assert.Equal(t, StatusMaxIterReached, sol.Status)
				return
			}
			assert.InDelta(t, 1.88, sol.Objective, 1e-3)
		})
	}
}

func TestProxQPUpdatePreconditioner(t *testing.T) {
	s := tightSettings()
	s.ProxQP.UpdatePreconditioner = true
	prob := boxProblem()
	ws, err := New("proxqp", prob, s)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		sol, err := ws.Solve(prob)
		require.NoError(t, err)
		require.True(t, sol.Found)
		assert.False(t, math.IsNaN(sol.Objective))
		assert.InDelta(t, 1.88, sol.Objective, 1e-4)
	}
}

func TestPrimalInfeasible(t *testing.T) {
	problems := map[string]*Problem{
		// x <= -1 and x >= 1, merged into crossed bounds.
		"mirrored rows": {
			P: mat.NewSymDense(1, []float64{1}),
			Q: []float64{0},
			G: mat.NewDense(2, 1, []float64{1, -1}),
			H: []float64{-1, -1},
		},
		// x <= -1 and 2x >= 2, kept one-sided.
		"independent rows": {
			P: mat.NewSymDense(1, []float64{1}),
			Q: []float64{0},
			G: mat.NewDense(2, 1, []float64{1, -2}),
			H: []float64{-1, -2},
		},
	}
	for name, prob := range problems {
		for _, solver := range backends {
			t.Run(name+"/"+solver, func(t *testing.T) {
				ws, err := New(solver, prob, DefaultSettings())
				require.NoError(t, err)
				sol, err := ws.Solve(prob)
				require.NoError(t, err)
				assert.False(t, sol.Found, sol.String())
				if solver != "hpipm" {
					assert.Equal(t, StatusPrimalInfeasible, sol.Status, sol.String())
				}
			})
		}
	}
}

func TestInfeasibleBoundsAfterUpdate(t *testing.T) {
	prob := &Problem{
		P: mat.NewSymDense(1, []float64{1}),
		Q: []float64{-1},
		G: mat.NewDense(2, 1, []float64{1, -1}),
		H: []float64{2, 2},
	}
	for _, solver := range []string{"proxqp", "qpalm", "osqp"} {
		t.Run(solver, func(t *testing.T) {
			ws, err := New(solver, prob, DefaultSettings())
			require.NoError(t, err)
			sol, err := ws.Solve(prob)
			require.NoError(t, err)
			require.True(t, sol.Found, sol.String())

			crossed := &Problem{P: prob.P, Q: prob.Q, G: prob.G, H: []float64{-1, -1}}
			sol, err = ws.Solve(crossed)
			require.NoError(t, err)
			assert.False(t, sol.Found)
			assert.Equal(t, StatusPrimalInfeasible, sol.Status)
			assert.Zero(t, sol.Iterations)
		})
	}
}
