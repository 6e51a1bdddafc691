package canbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

const DefaultTimeout = 50 * time.Millisecond

// Spine is the agent side of the bus.
type Spine struct {
	bus      Bus
	dt       float64
	timeout  time.Duration
	odometry spine.WheelOdometry
	logger   *slog.Logger

	mu      sync.Mutex
	seq     uint8
	steps   int
	t       float64
	started bool
	closed  bool
}

var _ spine.Spine = (*Spine)(nil)

type Option func(*Spine)

// WithTimeout bounds the wait for the robot to answer a command.
func WithTimeout(d time.Duration) Option {
	return func(s *Spine) { s.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Spine) { s.logger = logger }
}

func WithOdometry(o spine.WheelOdometry) Option {
	return func(s *Spine) { s.odometry = o }
}

func NewSpine(bus Bus, dt float64, opts ...Option) *Spine {
	s := &Spine{
		bus:      bus,
		dt:       dt,
		timeout:  DefaultTimeout,
		odometry: spine.DefaultWheelOdometry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Spine) Dt() float64 {
	return s.dt
}

func (s *Spine) Reset(ctx context.Context) (spine.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.exchange(ctx, "reset", 0, true)
	if err != nil {
		return spine.Observation{}, err
	}
	s.steps = 0
	s.t = 0
	s.started = true
	res.Observation.Time = s.t
	return res.Observation, nil
}

func (s *Spine) Step(ctx context.Context, action spine.Action) (spine.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return spine.StepResult{}, &spine.SpineError{Op: "step", Step: s.steps, Time: s.t, Wrapped: spine.ErrNotReset}
	}
	res, err := s.exchange(ctx, "step", action.GroundVelocity, false)
	if err != nil {
		return spine.StepResult{}, err
	}
	s.steps++
	s.t += s.dt
	res.Observation.Time = s.t
	return res, nil
}

// exchange sends a command and collects the three state frames the robot
// answers with the same sequence number.
func (s *Spine) exchange(ctx context.Context, op string, velocity float64, reset bool) (spine.StepResult, error) {
	wrap := func(err error) error {
		return &spine.SpineError{Op: op, Step: s.steps, Time: s.t, Wrapped: err}
	}
	if s.closed {
		return spine.StepResult{}, wrap(spine.ErrClosed)
	}

	s.seq++
	seq := s.seq
	frame, err := CommandFrame.Encode(map[string]float64{
		SigGroundVelocity: velocity,
		SigSequence:       float64(seq),
		SigReset:          boolValue(reset),
	})
	if err != nil {
		return spine.StepResult{}, wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.bus.Transmit(ctx, frame); err != nil {
		return spine.StepResult{}, wrap(err)
	}

	var imu, angles, velocities map[string]float64
	for imu == nil || angles == nil || velocities == nil {
		frame, err := s.bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("no answer to command %d within %s: %w", seq, s.timeout, err)
			}
			return spine.StepResult{}, wrap(err)
		}
		def, err := FrameByID(frame.ID)
		if err != nil {
			s.logger.Debug("ignoring frame", "id", frame.ID)
			continue
		}
		values, err := def.Decode(frame)
		if err != nil {
			s.logger.Warn("malformed frame", "frame", def.Name, "error", err)
			continue
		}
		if uint8(values[SigSequence]) != seq {
			continue
		}
		switch def.ID {
		case ImuFrame.ID:
			imu = values
		case WheelAnglesFrame.ID:
			angles = values
		case WheelVelocitiesFrame.ID:
			velocities = values
		}
	}

	return spine.StepResult{
		Observation: spine.Observation{
			BasePitch:           imu[SigBasePitch],
			GroundPosition:      s.odometry.Ground(angles[SigLeftWheelAngle], angles[SigRightWheelAngle]),
			BaseAngularVelocity: imu[SigBaseAngularVelocity],
			GroundVelocity:      s.odometry.Ground(velocities[SigLeftWheelVelocity], velocities[SigRightWheelVelocity]),
			FloorContact:        imu[SigFloorContact] == 1,
		},
		Terminated: imu[SigTerminated] == 1,
		Truncated:  imu[SigTruncated] == 1,
	}, nil
}

func (s *Spine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bus.Close()
}
