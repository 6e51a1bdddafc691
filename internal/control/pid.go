package control

import (
	"math"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
)

// PID balances the pendulum by accelerating towards the side it leans to.
// The derivative term reads the measured pitch rate rather than a finite
// difference of the pitch.
type PID struct {
	Kp float64
	Ki float64
	Kd float64
	// Ground position and velocity gains, zero to let the base drift.
	KPos float64
	KVel float64
	// Limit clamps the output acceleration, zero for no limit.
	Limit float64

	integral float64
	prevT    float64
	first    bool
}

func NewPID(kp, ki, kd float64) *PID {
	return &PID{
		Kp:    kp,
		Ki:    ki,
		Kd:    kd,
		first: true,
	}
}

// NewPitchPID returns gains that stabilize the pitch of a pendulum of the
// given length: the proportional gain must exceed gravity.
func NewPitchPID(length, maxGroundAccel float64) *PID {
	pid := NewPID(3*physics.Gravity, 0, 2*math.Sqrt(physics.Gravity*length))
	pid.Limit = maxGroundAccel
	return pid
}

func (p *PID) Compute(x dynamo.State, t float64) dynamo.Control {
	if len(x) < physics.StateDim {
		return dynamo.Control{0}
	}

	pitch := x[physics.BasePitch]
	if p.first {
		p.prevT = t
		p.first = false
	} else if dt := t - p.prevT; dt > 0 {
		p.integral += pitch * dt
		p.prevT = t
	}

	u := p.Kp*pitch + p.Ki*p.integral + p.Kd*x[physics.BaseAngularVelocity]
	u += p.KPos*x[physics.GroundPosition] + p.KVel*x[physics.GroundVelocity]
	if p.Limit > 0 {
		u = math.Max(-p.Limit, math.Min(p.Limit, u))
	}
	return dynamo.Control{u}
}

// Reset clears integral state
func (p *PID) Reset() {
	p.integral = 0
	p.first = true
}
