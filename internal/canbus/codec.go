// Package canbus drives a spine over a CAN bus. The agent side sends wheel
// velocity commands and reads IMU and wheel odometry frames, the robot side
// answers them from any spine implementation.
package canbus

import (
	"errors"
	"fmt"
	"math"

	"go.einride.tech/can"
)

var (
	ErrUnknownFrame  = errors.New("canbus: unknown frame")
	ErrUnknownSignal = errors.New("canbus: unknown signal")
)

// Signal is a little-endian field of a frame payload, with physical value
// raw*Factor + Offset.
type Signal struct {
	Name     string
	StartBit uint8
	Length   uint8
	Signed   bool
	Factor   float64
	Offset   float64
}

func (s Signal) limits() (lo, hi float64) {
	if s.Signed {
		half := math.Ldexp(1, int(s.Length)-1)
		return -half, half - 1
	}
	return 0, math.Ldexp(1, int(s.Length)) - 1
}

// encode saturates values that do not fit in the signal.
func (s Signal) encode(data *can.Data, value float64) {
	lo, hi := s.limits()
	raw := math.Round((value - s.Offset) / s.Factor)
	raw = math.Max(lo, math.Min(hi, raw))
	if s.Signed {
		data.SetSignedBitsLittleEndian(s.StartBit, s.Length, int64(raw))
	} else {
		data.SetUnsignedBitsLittleEndian(s.StartBit, s.Length, uint64(raw))
	}
}

func (s Signal) decode(data *can.Data) float64 {
	if s.Signed {
		return float64(data.SignedBitsLittleEndian(s.StartBit, s.Length))*s.Factor + s.Offset
	}
	return float64(data.UnsignedBitsLittleEndian(s.StartBit, s.Length))*s.Factor + s.Offset
}

type FrameDef struct {
	ID      uint32
	Name    string
	Length  uint8
	Signals []Signal
}

// Encode builds a frame from physical values. Missing signals are zero.
func (d FrameDef) Encode(values map[string]float64) (can.Frame, error) {
	frame := can.Frame{ID: d.ID, Length: d.Length}
	known := make(map[string]bool, len(d.Signals))
	for _, s := range d.Signals {
		known[s.Name] = true
		s.encode(&frame.Data, values[s.Name])
	}
	for name := range values {
		if !known[name] {
			return can.Frame{}, fmt.Errorf("%w: %s in frame %s", ErrUnknownSignal, name, d.Name)
		}
	}
	return frame, nil
}

func (d FrameDef) Decode(frame can.Frame) (map[string]float64, error) {
	if frame.ID != d.ID {
		return nil, fmt.Errorf("%w: 0x%X is not %s", ErrUnknownFrame, frame.ID, d.Name)
	}
	if frame.Length < d.Length {
		return nil, fmt.Errorf("frame %s expects length %d, got %d", d.Name, d.Length, frame.Length)
	}
	out := make(map[string]float64, len(d.Signals))
	for _, s := range d.Signals {
		out[s.Name] = s.decode(&frame.Data)
	}
	return out, nil
}

// Signal names.
const (
	SigGroundVelocity      = "ground_velocity"
	SigReset               = "reset"
	SigSequence            = "sequence"
	SigBasePitch           = "base_pitch"
	SigBaseAngularVelocity = "base_angular_velocity"
	SigFloorContact        = "floor_contact"
	SigTerminated          = "terminated"
	SigTruncated           = "truncated"
	SigLeftWheelAngle      = "left_wheel_angle"
	SigRightWheelAngle     = "right_wheel_angle"
	SigLeftWheelVelocity   = "left_wheel_velocity"
	SigRightWheelVelocity  = "right_wheel_velocity"
)

func flag(name string, bit uint8) Signal {
	return Signal{Name: name, StartBit: bit, Length: 1, Factor: 1}
}

var (
	// CommandFrame carries the commanded ground velocity in mm/s.
	CommandFrame = FrameDef{
		ID: 0x100, Name: "command", Length: 4,
		Signals: []Signal{
			{Name: SigGroundVelocity, StartBit: 0, Length: 16, Signed: true, Factor: 1e-3},
			{Name: SigSequence, StartBit: 16, Length: 8, Factor: 1},
			flag(SigReset, 24),
		},
	}
	ImuFrame = FrameDef{
		ID: 0x200, Name: "imu", Length: 6,
		Signals: []Signal{
			{Name: SigBasePitch, StartBit: 0, Length: 16, Signed: true, Factor: 1e-4},
			{Name: SigBaseAngularVelocity, StartBit: 16, Length: 16, Signed: true, Factor: 1e-3},
			{Name: SigSequence, StartBit: 32, Length: 8, Factor: 1},
			flag(SigFloorContact, 40),
			flag(SigTerminated, 41),
			flag(SigTruncated, 42),
		},
	}
	WheelAnglesFrame = FrameDef{
		ID: 0x201, Name: "wheel_angles", Length: 7,
		Signals: []Signal{
			{Name: SigLeftWheelAngle, StartBit: 0, Length: 24, Signed: true, Factor: 1e-3},
			{Name: SigRightWheelAngle, StartBit: 24, Length: 24, Signed: true, Factor: 1e-3},
			{Name: SigSequence, StartBit: 48, Length: 8, Factor: 1},
		},
	}
	WheelVelocitiesFrame = FrameDef{
		ID: 0x202, Name: "wheel_velocities", Length: 5,
		Signals: []Signal{
			{Name: SigLeftWheelVelocity, StartBit: 0, Length: 16, Signed: true, Factor: 1e-2},
			{Name: SigRightWheelVelocity, StartBit: 16, Length: 16, Signed: true, Factor: 1e-2},
			{Name: SigSequence, StartBit: 32, Length: 8, Factor: 1},
		},
	}
)

// FrameByID looks up the definitions above.
func FrameByID(id uint32) (FrameDef, error) {
	for _, d := range []FrameDef{CommandFrame, ImuFrame, WheelAnglesFrame, WheelVelocitiesFrame} {
		if d.ID == id {
			return d, nil
		}
	}
	return FrameDef{}, fmt.Errorf("%w: 0x%X", ErrUnknownFrame, id)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
