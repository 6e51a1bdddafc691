package spine

// WheelRadius of the wheels in meters.
const WheelRadius = 0.06

// WheelOdometry converts between ground motion and wheel rotations. Radii
// are signed: the right wheel is mounted mirrored, so it turns backwards
// when the robot rolls forward.
type WheelOdometry struct {
	LeftRadius  float64
	RightRadius float64
}

func DefaultWheelOdometry() WheelOdometry {
	return WheelOdometry{LeftRadius: +WheelRadius, RightRadius: -WheelRadius}
}

// WheelAngles returns the wheel rotations for a ground displacement.
func (o WheelOdometry) WheelAngles(groundPosition float64) (left, right float64) {
	return groundPosition / o.LeftRadius, groundPosition / o.RightRadius
}

// Ground averages the displacement seen by both wheels. It applies to
// positions and velocities alike.
func (o WheelOdometry) Ground(left, right float64) float64 {
	return 0.5 * (o.LeftRadius*left + o.RightRadius*right)
}
