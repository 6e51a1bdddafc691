package control

import (
	"errors"
	"fmt"
	"log/slog"
)

var ErrFilterUnstable = errors.New("control: low-pass filter is unstable")

// LowPassFilter moves prevOutput towards newInput with a first-order
// response of time constant cutoffPeriod. The discretization requires
// dt < cutoffPeriod / 2.
func LowPassFilter(prevOutput, cutoffPeriod, newInput, dt float64) (float64, error) {
	if cutoffPeriod <= 2*dt {
		return prevOutput, fmt.Errorf("%w: cutoff period %g is less than twice the timestep %g", ErrFilterUnstable, cutoffPeriod, dt)
	}
	alpha := dt / cutoffPeriod
	return prevOutput + alpha*(newInput-prevOutput), nil
}

// ClampAndWarn clamps value to [lower, upper] and logs a warning when it
// was out of range.
func ClampAndWarn(logger *slog.Logger, value, lower, upper float64, label string) float64 {
	if value < lower {
		logger.Warn(fmt.Sprintf("%s=%g is below lower bound %g", label, value, lower))
		return lower
	}
	if value > upper {
		logger.Warn(fmt.Sprintf("%s=%g is above upper bound %g", label, value, upper))
		return upper
	}
	return value
}
