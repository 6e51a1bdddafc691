package metrics

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PowerSpectrum returns the magnitude of the real FFT of values after
// removing their mean, for frequencies 0 to the Nyquist frequency.
func PowerSpectrum(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	centered := make([]float64, len(values))
	copy(centered, values)
	floats.AddConst(-stat.Mean(values, nil), centered)

	coeffs := fourier.NewFFT(len(centered)).Coefficients(nil, centered)
	ps := make([]float64, len(coeffs))
	for i, c := range coeffs {
		ps[i] = cmplx.Abs(c)
	}
	return ps
}

// DominantFrequency is the frequency in Hz of the strongest oscillation of
// a series sampled every dt seconds, zero for constant or short series.
func DominantFrequency(values []float64, dt float64) float64 {
	ps := PowerSpectrum(values)
	if len(ps) < 2 || dt <= 0 {
		return 0
	}
	peak := floats.MaxIdx(ps[1:]) + 1
	if ps[peak] == 0 {
		return 0
	}
	return float64(peak) / (float64(len(values)) * dt)
}
