package canbus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

// Robot answers command frames on a bus by driving a spine, typically the
// simulator when no hardware is attached.
type Robot struct {
	bus      Bus
	spine    spine.Spine
	odometry spine.WheelOdometry
	logger   *slog.Logger
}

func NewRobot(bus Bus, sp spine.Spine, logger *slog.Logger) *Robot {
	return &Robot{bus: bus, spine: sp, odometry: spine.DefaultWheelOdometry(), logger: logger}
}

// Serve processes commands until ctx is done or the bus is closed.
func (r *Robot) Serve(ctx context.Context) error {
	for {
		frame, err := r.bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBusClosed) {
				return nil
			}
			return err
		}
		if frame.ID != CommandFrame.ID {
			continue
		}
		cmd, err := CommandFrame.Decode(frame)
		if err != nil {
			r.logger.Warn("malformed command", "error", err)
			continue
		}

		var res spine.StepResult
		if cmd[SigReset] == 1 {
			res.Observation, err = r.spine.Reset(ctx)
		} else {
			res, err = r.spine.Step(ctx, spine.Action{GroundVelocity: cmd[SigGroundVelocity]})
		}
		if err != nil {
			if errors.Is(err, spine.ErrClosed) {
				return err
			}
			r.logger.Error("spine command failed", "error", err)
			continue
		}
		if err := r.publish(ctx, cmd[SigSequence], res); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrBusClosed) {
				return nil
			}
			return err
		}
	}
}

func (r *Robot) publish(ctx context.Context, seq float64, res spine.StepResult) error {
	obs := res.Observation
	leftAngle, rightAngle := r.odometry.WheelAngles(obs.GroundPosition)
	leftVel, rightVel := r.odometry.WheelAngles(obs.GroundVelocity)

	frames := []struct {
		def    FrameDef
		values map[string]float64
	}{
		{ImuFrame, map[string]float64{
			SigBasePitch:           obs.BasePitch,
			SigBaseAngularVelocity: obs.BaseAngularVelocity,
			SigSequence:            seq,
			SigFloorContact:        boolValue(obs.FloorContact),
			SigTerminated:          boolValue(res.Terminated),
			SigTruncated:           boolValue(res.Truncated),
		}},
		{WheelAnglesFrame, map[string]float64{
			SigLeftWheelAngle:  leftAngle,
			SigRightWheelAngle: rightAngle,
			SigSequence:        seq,
		}},
		{WheelVelocitiesFrame, map[string]float64{
			SigLeftWheelVelocity:  leftVel,
			SigRightWheelVelocity: rightVel,
			SigSequence:           seq,
		}},
	}
	for _, f := range frames {
		frame, err := f.def.Encode(f.values)
		if err != nil {
			return err
		}
		if err := r.bus.Transmit(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}
