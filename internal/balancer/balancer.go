// Package balancer closes the balancing loop between a spine and a model
// predictive controller.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/control"
	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/metrics"
	"github.com/stephane-caron/proxqp-balancer/internal/mpc"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
	"github.com/stephane-caron/proxqp-balancer/internal/qp"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

const (
	// AirborneCutoffPeriod is the time constant with which the commanded
	// velocity decays when the wheels lose floor contact.
	AirborneCutoffPeriod = 0.1
	MaxCommandedVelocity = 1.0
	// StabilityPitch is the pitch threshold of the stability metric.
	StabilityPitch = 0.1
)

var ErrNoController = errors.New("balancer: unknown controller")

// Step is the record of one loop iteration.
type Step struct {
	Index             int               `json:"index"`
	Observation       spine.Observation `json:"observation"`
	GroundAccel       float64           `json:"ground_accel"`
	CommandedVelocity float64           `json:"commanded_velocity"`
	PlanningTime      time.Duration     `json:"planning_time"`
	Found             bool              `json:"found"`
}

// Observer is notified after every step. The plan is nil for controllers
// other than MPC and for failed solves.
type Observer interface {
	OnStep(step Step, plan *mpc.Plan)
}

type ObserverFunc func(step Step, plan *mpc.Plan)

func (f ObserverFunc) OnStep(step Step, plan *mpc.Plan) { f(step, plan) }

type Result struct {
	Steps  int
	Resets int
	// BasePitches and PlanningTimes (seconds) are recorded when the number
	// of environment steps is bounded.
	BasePitches   []float64
	PlanningTimes []float64
	Trace         []Step
	Metrics       map[string]float64
}

type Balancer struct {
	cfg      *config.Config
	solver   string
	pendulum *physics.WheeledInvertedPendulum
	problem  *mpc.Problem
	mpcQP    *mpc.QP
	// targets holds the goal and stage targets, all zero.
	targets []float64

	workspace  qp.Workspace
	controller control.Controller

	logger      *slog.Logger
	metrics     []metrics.Metric
	observers   []Observer
	recordTrace bool
}

type Option func(*Balancer)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Balancer) { b.logger = logger }
}

// WithWorkspace replaces the workspace built from the configured solver.
func WithWorkspace(ws qp.Workspace) Option {
	return func(b *Balancer) { b.workspace = ws }
}

func WithObserver(o Observer) Option {
	return func(b *Balancer) { b.observers = append(b.observers, o) }
}

func WithMetric(m metrics.Metric) Option {
	return func(b *Balancer) { b.metrics = append(b.metrics, m) }
}

// WithTrace keeps every Step in the result.
func WithTrace() Option {
	return func(b *Balancer) { b.recordTrace = true }
}

func New(cfg *config.Config, opts ...Option) (*Balancer, error) {
	bc := cfg.Balance
	solver, err := qp.Resolve(bc.Solver)
	if err != nil {
		return nil, err
	}
	if bc.Controller == "mpc" && solver != "proxqp" {
		if bc.RebuildQPEveryTime {
			return nil, fmt.Errorf("%w: rebuild_qp_every_time with solver %s", qp.ErrProxQPOnly, solver)
		}
		if !bc.WarmStart {
			return nil, fmt.Errorf("%w: cold start with solver %s", qp.ErrProxQPOnly, solver)
		}
	}

	pendulum, err := physics.NewWheeledInvertedPendulum(bc.PendulumLength, bc.MaxGroundAccel, bc.NbMPCTimesteps, bc.MPCSamplingPeriod)
	if err != nil {
		return nil, err
	}
	problem, err := pendulum.BuildMPCProblem(bc.TerminalCostWeight, bc.StageStateCostWeight, bc.StageInputCostWeight)
	if err != nil {
		return nil, err
	}
	mpcQP, err := mpc.NewQP(problem)
	if err != nil {
		return nil, err
	}

	b := &Balancer{
		cfg:      cfg,
		solver:   solver,
		pendulum: pendulum,
		problem:  problem,
		mpcQP:    mpcQP,
		targets:  make([]float64, (bc.NbMPCTimesteps+1)*physics.StateDim),
		logger:   slog.Default(),
	}
	b.metrics = metrics.Standard(pendulum, StabilityPitch)
	for _, opt := range opts {
		opt(b)
	}

	switch bc.Controller {
	case "mpc":
		if b.workspace == nil {
			b.workspace, err = qp.New(solver, mpcQP.Problem, cfg.QPSettings(b.logger))
			if err != nil {
				return nil, err
			}
		}
	case "pid":
		b.controller = control.NewPitchPID(bc.PendulumLength, bc.MaxGroundAccel)
	case "none":
		b.controller = control.NewNone(physics.InputDim)
	case "lqr":
		b.controller, err = control.NewWheeledPendulumLQR(pendulum, []float64{1, 10, 1, 1}, 0.1)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoController, bc.Controller)
	}
	return b, nil
}

// Config is the operative configuration.
func (b *Balancer) Config() *config.Config {
	return b.cfg
}

func (b *Balancer) Problem() *mpc.Problem {
	return b.problem
}

func (b *Balancer) QP() *mpc.QP {
	return b.mpcQP
}

// Solver is the canonical name of the QP backend.
func (b *Balancer) Solver() string {
	return b.solver
}

func (b *Balancer) Pendulum() *physics.WheeledInvertedPendulum {
	return b.pendulum
}

// Run balances the robot behind sp until the configured number of steps is
// reached or ctx is done. The result collected so far is returned in both
// cases, along with ctx.Err() in the latter.
func (b *Balancer) Run(ctx context.Context, sp spine.Spine) (*Result, error) {
	dt := sp.Dt()
	if AirborneCutoffPeriod <= 2*dt {
		return nil, fmt.Errorf("%w: spine period %g is too long", control.ErrFilterUnstable, dt)
	}
	if b.cfg.Balance.MPCSamplingPeriod < dt {
		return nil, fmt.Errorf("%w: mpc_sampling_period %g is shorter than the spine period %g",
			config.ErrInvalidConfig, b.cfg.Balance.MPCSamplingPeriod, dt)
	}
	nbEnvSteps := b.cfg.Balance.NbEnvSteps
	result := &Result{Metrics: make(map[string]float64)}
	if nbEnvSteps > 0 {
		result.BasePitches = make([]float64, 0, nbEnvSteps)
		result.PlanningTimes = make([]float64, 0, nbEnvSteps)
	}
	for _, m := range b.metrics {
		m.Reset()
	}
	defer b.collectMetrics(result)

	if _, err := sp.Reset(ctx); err != nil {
		return nil, err
	}
	b.logger.Info("balancing", "controller", b.cfg.Balance.Controller, "solver", b.solver, "dt", dt)

	commandedVelocity := 0.0
	for step := 0; ; {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := sp.Step(ctx, spine.Action{GroundVelocity: commandedVelocity})
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, err
		}
		observation := res.Observation
		b.logger.Debug("observation",
			"base_pitch", observation.BasePitch,
			"ground_position", observation.GroundPosition,
			"floor_contact", observation.FloorContact)
		if res.Terminated || res.Truncated {
			if observation, err = sp.Reset(ctx); err != nil {
				return result, err
			}
			result.Resets++
			commandedVelocity = 0.0
		}

		initialState := []float64{
			observation.GroundPosition,
			observation.BasePitch,
			observation.GroundVelocity,
			observation.BaseAngularVelocity,
		}

		t0 := time.Now()
		accel, plan, err := b.plan(initialState, observation.Time)
		if err != nil {
			return result, err
		}
		planningTime := time.Since(t0)
		if nbEnvSteps > 0 {
			result.BasePitches = append(result.BasePitches, observation.BasePitch)
			result.PlanningTimes = append(result.PlanningTimes, planningTime.Seconds())
		}

		found := plan == nil || !plan.IsEmpty()
		switch {
		case !observation.FloorContact:
			commandedVelocity, err = control.LowPassFilter(commandedVelocity, AirborneCutoffPeriod, 0.0, dt)
			if err != nil {
				return result, err
			}
		case !found:
			b.logger.Error("Solver found no solution to the MPC problem")
			b.logger.Info("Continuing with previous action")
		default:
			b.pendulum.State = dynamo.State(initialState)
			commandedVelocity = control.ClampAndWarn(
				b.logger,
				commandedVelocity+accel*dt/2.0,
				-MaxCommandedVelocity,
				+MaxCommandedVelocity,
				"commanded_velocity",
			)
		}

		record := Step{
			Index:             result.Steps,
			Observation:       observation,
			GroundAccel:       accel,
			CommandedVelocity: commandedVelocity,
			PlanningTime:      planningTime,
			Found:             found,
		}
		b.observe(initialState, accel, observation.Time)
		if b.recordTrace {
			result.Trace = append(result.Trace, record)
		}
		if !found {
			plan = nil
		}
		for _, o := range b.observers {
			o.OnStep(record, plan)
		}
		result.Steps++

		if nbEnvSteps > 0 {
			step++
			if step >= nbEnvSteps {
				return result, nil
			}
		}
	}
}

// plan computes the ground acceleration to apply from state x. The plan is
// nil for controllers other than MPC.
func (b *Balancer) plan(x []float64, t float64) (float64, *mpc.Plan, error) {
	if b.controller != nil {
		u := b.controller.Compute(dynamo.State(x), t)
		return u[0], nil, nil
	}

	nx := physics.StateDim
	N := b.problem.NbTimesteps
	if err := b.problem.UpdateInitialState(x); err != nil {
		return 0, nil, err
	}
	if err := b.problem.UpdateGoalState(b.targets[N*nx:]); err != nil {
		return 0, nil, err
	}
	if err := b.problem.UpdateTargetStates(b.targets[:N*nx]); err != nil {
		return 0, nil, err
	}

	var plan *mpc.Plan
	if b.cfg.Balance.RebuildQPEveryTime {
		var err error
		if plan, err = mpc.SolveMPC(b.problem, "proxqp"); err != nil {
			return 0, nil, err
		}
	} else {
		if err := b.mpcQP.UpdateCostVector(b.problem); err != nil {
			return 0, nil, err
		}
		var sol *qp.Solution
		var err error
		if b.cfg.Balance.WarmStart {
			sol, err = b.workspace.Solve(b.mpcQP.Problem)
		} else {
			sol, err = qp.SolveProblem(b.mpcQP.Problem, "proxqp")
		}
		if err != nil {
			return 0, nil, err
		}
		if !sol.Found {
			b.logger.Warn("No solution found to the MPC problem", "status", sol.Status)
		}
		plan = mpc.NewPlan(b.problem, sol)
	}
	if plan.IsEmpty() {
		return 0, plan, nil
	}
	return plan.FirstInput()[0], plan, nil
}

func (b *Balancer) observe(x []float64, accel, t float64) {
	u := dynamo.Control{accel}
	for _, m := range b.metrics {
		m.Observe(dynamo.State(x), u, t)
	}
}

func (b *Balancer) collectMetrics(result *Result) {
	if result == nil {
		return
	}
	for _, m := range b.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}
