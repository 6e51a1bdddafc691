package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/mpc"
)

const (
	// StateDim is the size of [ground_position, base_pitch, ground_velocity, base_angular_velocity].
	StateDim = 4
	// InputDim is the size of [ground_acceleration].
	InputDim = 1

	Gravity = 9.81
)

// Indices into the pendulum state.
const (
	GroundPosition = iota
	BasePitch
	GroundVelocity
	BaseAngularVelocity
)

// WheeledInvertedPendulum models the robot base as a point mass on top of
// a massless leg of fixed length, rolling on wheels whose ground
// acceleration is the control input.
type WheeledInvertedPendulum struct {
	Length         float64
	MaxGroundAccel float64
	NbTimesteps    int
	SamplingPeriod float64
	Gravity        float64

	// State is the last state the pendulum was synchronized to.
	State dynamo.State
}

func NewWheeledInvertedPendulum(length, maxGroundAccel float64, nbTimesteps int, samplingPeriod float64) (*WheeledInvertedPendulum, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: pendulum length must be positive, got %f", dynamo.ErrParameterBounds, length)
	}
	if maxGroundAccel <= 0 {
		return nil, fmt.Errorf("%w: max ground acceleration must be positive, got %f", dynamo.ErrParameterBounds, maxGroundAccel)
	}
	if nbTimesteps < 1 {
		return nil, fmt.Errorf("%w: need at least one timestep, got %d", dynamo.ErrParameterBounds, nbTimesteps)
	}
	if samplingPeriod <= 0 {
		return nil, fmt.Errorf("%w: sampling period must be positive, got %f", dynamo.ErrParameterBounds, samplingPeriod)
	}
	return &WheeledInvertedPendulum{
		Length:         length,
		MaxGroundAccel: maxGroundAccel,
		NbTimesteps:    nbTimesteps,
		SamplingPeriod: samplingPeriod,
		Gravity:        Gravity,
		State:          make(dynamo.State, StateDim),
	}, nil
}

func (p *WheeledInvertedPendulum) StateDim() int   { return StateDim }
func (p *WheeledInvertedPendulum) ControlDim() int { return InputDim }

// Omega is the natural frequency sqrt(g / l) of the pendulum.
func (p *WheeledInvertedPendulum) Omega() float64 {
	return math.Sqrt(p.Gravity / p.Length)
}

// Derive implements the nonlinear dynamics used by the simulator. The
// linear model in DiscreteMatrices is its first-order approximation around
// the upright equilibrium.
func (p *WheeledInvertedPendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	pitch := x[BasePitch]
	groundVel := x[GroundVelocity]
	pitchVel := x[BaseAngularVelocity]

	accel := 0.0
	if len(u) > 0 {
		accel = u[0]
	}

	pitchAccel := (p.Gravity*math.Sin(pitch) - accel*math.Cos(pitch)) / p.Length
	return dynamo.State{groundVel, pitchVel, accel, pitchAccel}
}

// Energy is the pendulum energy per unit mass, zero at the upright
// equilibrium.
func (p *WheeledInvertedPendulum) Energy(x dynamo.State) float64 {
	v := p.Length * x[BaseAngularVelocity]
	ke := 0.5 * v * v
	pe := p.Gravity * p.Length * (math.Cos(x[BasePitch]) - 1.0)
	return ke + pe
}

// DiscreteMatrices returns the transition matrices (A, B) of the
// linearized model discretized at the sampling period.
func (p *WheeledInvertedPendulum) DiscreteMatrices() (*mat.Dense, *mat.Dense) {
	T := p.SamplingPeriod
	omega2 := p.Gravity / p.Length
	A := mat.NewDense(StateDim, StateDim, []float64{
		1, 0, T, 0,
		0, 1, 0, T,
		0, 0, 1, 0,
		0, omega2 * T, 0, 1,
	})
	B := mat.NewDense(StateDim, InputDim, []float64{
		T * T / 2,
		-T * T / (2 * p.Length),
		T,
		-T / p.Length,
	})
	return A, B
}

// BuildMPCProblem assembles the balancing problem: drive the state to zero
// while keeping the ground acceleration within its limit.
func (p *WheeledInvertedPendulum) BuildMPCProblem(terminalCostWeight, stageStateCostWeight, stageInputCostWeight float64) (*mpc.Problem, error) {
	A, B := p.DiscreteMatrices()
	accelIneqMatrix := mat.NewDense(2, InputDim, []float64{+1, -1})
	accelIneqVector := []float64{p.MaxGroundAccel, p.MaxGroundAccel}

	problem := &mpc.Problem{
		TransitionStateMatrix: A,
		TransitionInputMatrix: B,
		IneqInputMatrix:       accelIneqMatrix,
		IneqVector:            accelIneqVector,
		InitialState:          make([]float64, StateDim),
		GoalState:             make([]float64, StateDim),
		TargetStates:          make([]float64, p.NbTimesteps*StateDim),
		NbTimesteps:           p.NbTimesteps,
		TerminalCostWeight:    terminalCostWeight,
		StageStateCostWeight:  stageStateCostWeight,
		StageInputCostWeight:  stageInputCostWeight,
	}
	if err := problem.Validate(); err != nil {
		return nil, err
	}
	return problem, nil
}
