// Package spine is the interface between the balancer and the robot,
// whether simulated in-process, reached over the network or driven over a
// CAN bus.
package spine

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotReset = errors.New("spine: step before reset")
	ErrClosed   = errors.New("spine: closed")
)

// Observation of the wheeled base, in the order the balancer unpacks it.
type Observation struct {
	BasePitch           float64 `json:"base_pitch"`
	GroundPosition      float64 `json:"ground_position"`
	BaseAngularVelocity float64 `json:"base_angular_velocity"`
	GroundVelocity      float64 `json:"ground_velocity"`
	FloorContact        bool    `json:"floor_contact"`
	Time                float64 `json:"time"`
}

type Action struct {
	GroundVelocity float64 `json:"ground_velocity"`
}

type StepResult struct {
	Observation Observation `json:"observation"`
	// Terminated is set when the robot fell.
	Terminated bool `json:"terminated"`
	// Truncated is set when the episode hit its step limit.
	Truncated bool `json:"truncated"`
}

type Spine interface {
	Reset(ctx context.Context) (Observation, error)
	Step(ctx context.Context, action Action) (StepResult, error)
	// Dt is the control period in seconds.
	Dt() float64
	Close() error
}

// SpineError wraps an error with the step at which it happened.
type SpineError struct {
	Op      string
	Step    int
	Time    float64
	Wrapped error
}

func (e *SpineError) Error() string {
	return fmt.Sprintf("spine %s at step %d (t=%.4f): %v", e.Op, e.Step, e.Time, e.Wrapped)
}

func (e *SpineError) Unwrap() error {
	return e.Wrapped
}
