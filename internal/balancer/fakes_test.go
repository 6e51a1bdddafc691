package balancer_test

import (
	"context"

	"github.com/stephane-caron/proxqp-balancer/internal/qp"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

// fakeSpine replays scripted observations and records actions.
type fakeSpine struct {
	dt           float64
	observations []spine.Observation
	terminateAt  map[int]bool
	onStep       func(n int)

	actions []spine.Action
	resets  int
}

func newFakeSpine() *fakeSpine {
	return &fakeSpine{dt: 0.005, terminateAt: map[int]bool{}}
}

func (f *fakeSpine) Reset(ctx context.Context) (spine.Observation, error) {
	f.resets++
	return spine.Observation{BasePitch: 0.01, FloorContact: true}, nil
}

func (f *fakeSpine) Step(ctx context.Context, action spine.Action) (spine.StepResult, error) {
	f.actions = append(f.actions, action)
	n := len(f.actions)
	obs := spine.Observation{BasePitch: 0.01, FloorContact: true}
	if n <= len(f.observations) {
		obs = f.observations[n-1]
	}
	obs.Time = float64(n) * f.dt
	if f.onStep != nil {
		f.onStep(n)
	}
	return spine.StepResult{Observation: obs, Terminated: f.terminateAt[n]}, nil
}

func (f *fakeSpine) Dt() float64  { return f.dt }
func (f *fakeSpine) Close() error { return nil }

// fakeWorkspace returns a constant input trajectory.
type fakeWorkspace struct {
	accel float64
	found bool
	calls int
	lastQ []float64
}

func (w *fakeWorkspace) Name() string { return "fake" }

func (w *fakeWorkspace) Solve(prob *qp.Problem) (*qp.Solution, error) {
	w.calls++
	w.lastQ = append([]float64(nil), prob.Q...)
	if !w.found {
		return &qp.Solution{Status: qp.StatusMaxIterReached}, nil
	}
	x := make([]float64, len(prob.Q))
	for i := range x {
		x[i] = w.accel
	}
	return &qp.Solution{X: x, Found: true, Status: qp.StatusSolved}, nil
}
