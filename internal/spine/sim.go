package spine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/stephane-caron/proxqp-balancer/internal/automation"
	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/integrators"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
)

type SimConfig struct {
	Frequency      float64
	PendulumLength float64
	// MaxGroundAccel limits the wheel velocity servo.
	MaxGroundAccel float64
	// FallPitch is the pitch magnitude beyond which the robot has fallen.
	FallPitch float64
	// MaxSteps truncates episodes, zero for no limit.
	MaxSteps     int
	InitialPitch float64
	Integrator   string
	// RealTime paces steps at Frequency. FrequencyChecks warns when a
	// step comes late.
	RealTime        bool
	FrequencyChecks bool
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		Frequency:      200.0,
		PendulumLength: 0.4,
		MaxGroundAccel: 10.0,
		FallPitch:      1.0,
		InitialPitch:   0.05,
		Integrator:     "rk4",
	}
}

func (c SimConfig) validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("%w: frequency must be positive, got %f", dynamo.ErrParameterBounds, c.Frequency)
	}
	if c.FallPitch <= 0 {
		return fmt.Errorf("%w: fall pitch must be positive, got %f", dynamo.ErrParameterBounds, c.FallPitch)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: max steps must be nonnegative, got %d", dynamo.ErrParameterBounds, c.MaxSteps)
	}
	return nil
}

// Sim is a simulated wheeled biped base. The commanded ground velocity is
// tracked by a wheel servo with bounded acceleration, which drives the
// nonlinear inverted pendulum dynamics.
type Sim struct {
	cfg        SimConfig
	system     *disturbedPendulum
	integrator dynamo.Integrator
	odometry   WheelOdometry
	scenario   *automation.Scenario
	logger     *slog.Logger

	mu       sync.Mutex
	state    dynamo.State
	wheels   [2]float64
	step     int
	t        float64
	started  bool
	closed   bool
	lastTick time.Time
}

type SimOption func(*Sim)

func WithScenario(s *automation.Scenario) SimOption {
	return func(sim *Sim) { sim.scenario = s }
}

func WithLogger(logger *slog.Logger) SimOption {
	return func(sim *Sim) { sim.logger = logger }
}

func WithOdometry(o WheelOdometry) SimOption {
	return func(sim *Sim) { sim.odometry = o }
}

func NewSim(cfg SimConfig, opts ...SimOption) (*Sim, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pendulum, err := physics.NewWheeledInvertedPendulum(cfg.PendulumLength, cfg.MaxGroundAccel, 1, 1/cfg.Frequency)
	if err != nil {
		return nil, err
	}
	integ, err := integrators.New(cfg.Integrator)
	if err != nil {
		return nil, err
	}
	s := &Sim{
		cfg:        cfg,
		system:     &disturbedPendulum{WheeledInvertedPendulum: pendulum},
		integrator: integ,
		odometry:   DefaultWheelOdometry(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sim) Dt() float64 { return 1 / s.cfg.Frequency }

func (s *Sim) Reset(ctx context.Context) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Observation{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Observation{}, err
	}
	pitch := s.cfg.InitialPitch
	if s.scenario != nil && s.scenario.InitialPitch != 0 {
		pitch = s.scenario.InitialPitch
	}
	s.state = dynamo.State{0, pitch, 0, 0}
	s.wheels = [2]float64{}
	s.step = 0
	s.t = 0
	s.started = true
	s.lastTick = time.Now()
	s.logger.Debug("spine reset", "initial_pitch", pitch)
	return s.observe(), nil
}

func (s *Sim) Step(ctx context.Context, action Action) (StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StepResult{}, ErrClosed
	}
	if !s.started {
		return StepResult{}, &SpineError{Op: "step", Step: s.step, Time: s.t, Wrapped: ErrNotReset}
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	dt := s.Dt()
	accel := (action.GroundVelocity - s.state[physics.GroundVelocity]) / dt
	accel = math.Max(-s.cfg.MaxGroundAccel, math.Min(s.cfg.MaxGroundAccel, accel))

	s.system.push = s.scenario.PushAt(s.t)
	lifted := s.scenario.LiftedAt(s.t)
	if lifted && !s.system.lifted {
		s.state[physics.BaseAngularVelocity] = 0
	}
	s.system.lifted = lifted

	next := s.integrator.Step(s.system, s.state, dynamo.Control{accel}, s.t, dt)
	if !next.IsValid() {
		return StepResult{}, &SpineError{Op: "step", Step: s.step, Time: s.t, Wrapped: dynamo.ErrInvalidState}
	}
	s.state = next
	s.t += dt
	s.step++
	s.wheels[0], s.wheels[1] = s.odometry.WheelAngles(s.state[physics.GroundPosition])

	if err := s.pace(ctx); err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Observation: s.observe(),
		Terminated:  math.Abs(s.state[physics.BasePitch]) > s.cfg.FallPitch,
		Truncated:   s.cfg.MaxSteps > 0 && s.step >= s.cfg.MaxSteps,
	}, nil
}

func (s *Sim) observe() Observation {
	leftVel, rightVel := s.odometry.WheelAngles(s.state[physics.GroundVelocity])
	return Observation{
		BasePitch:           s.state[physics.BasePitch],
		GroundPosition:      s.odometry.Ground(s.wheels[0], s.wheels[1]),
		BaseAngularVelocity: s.state[physics.BaseAngularVelocity],
		GroundVelocity:      s.odometry.Ground(leftVel, rightVel),
		FloorContact:        !s.scenario.LiftedAt(s.t),
		Time:                s.t,
	}
}

// pace sleeps until the next control period when running in real time.
func (s *Sim) pace(ctx context.Context) error {
	if !s.cfg.RealTime {
		return nil
	}
	period := time.Duration(float64(time.Second) / s.cfg.Frequency)
	next := s.lastTick.Add(period)
	wait := time.Until(next)
	if wait <= 0 {
		if s.cfg.FrequencyChecks {
			s.logger.Warn("spine step is late", "step", s.step, "late", -wait)
		}
		s.lastTick = time.Now()
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	s.lastTick = next
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// State returns a copy of the simulated pendulum state.
func (s *Sim) State() dynamo.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// disturbedPendulum applies scenario disturbances on top of the pendulum
// dynamics.
type disturbedPendulum struct {
	*physics.WheeledInvertedPendulum
	push   float64
	lifted bool
}

func (d *disturbedPendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := d.WheeledInvertedPendulum.Derive(x, u, t)
	if d.lifted {
		dx[physics.BasePitch] = 0
		dx[physics.BaseAngularVelocity] = 0
		return dx
	}
	dx[physics.BaseAngularVelocity] += d.push
	return dx
}
