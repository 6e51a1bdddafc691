package qp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	ruizIterations = 10
	ruizMinNorm    = 1e-4
	ruizMaxNorm    = 1e4
)

// scaled holds a Ruiz-equilibrated copy of a two-sided problem:
//
//	P̄ = D P D,  C̄ = E C D,  q̄ = D q,  l̄ = E l,  ū = E u
//
// so that x = D x̄ and y = E ȳ.
type scaled struct {
	P *mat.SymDense
	C *mat.Dense
	L []float64
	U []float64
	D []float64
	E []float64
}

func newScaled(P *mat.SymDense, cons *Constraints, iterations int) *scaled {
	n := P.SymmetricDim()
	m := cons.Len()
	s := &scaled{
		P: mat.NewSymDense(n, nil),
		D: ones(n),
		E: ones(m),
		L: make([]float64, m),
		U: make([]float64, m),
	}
	s.P.CopySym(P)
	if m > 0 {
		s.C = mat.DenseCopyOf(cons.C)
	}

	delta := make([]float64, n)
	eps := make([]float64, m)
	for it := 0; it < iterations; it++ {
		for j := 0; j < n; j++ {
			norm := 0.0
			for i := 0; i < n; i++ {
				norm = math.Max(norm, math.Abs(s.P.At(i, j)))
			}
			for i := 0; i < m; i++ {
				norm = math.Max(norm, math.Abs(s.C.At(i, j)))
			}
			delta[j] = 1 / math.Sqrt(clampNorm(norm))
		}
		for i := 0; i < m; i++ {
			norm := 0.0
			for j := 0; j < n; j++ {
				norm = math.Max(norm, math.Abs(s.C.At(i, j)))
			}
			eps[i] = 1 / math.Sqrt(clampNorm(norm))
		}
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				s.P.SetSym(i, j, delta[i]*s.P.At(i, j)*delta[j])
			}
			s.D[i] *= delta[i]
		}
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				s.C.Set(i, j, eps[i]*s.C.At(i, j)*delta[j])
			}
			s.E[i] *= eps[i]
		}
	}
	s.updateBounds(cons)
	return s
}

func clampNorm(norm float64) float64 {
	if norm < ruizMinNorm {
		return 1
	}
	return math.Min(norm, ruizMaxNorm)
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func (s *scaled) updateBounds(cons *Constraints) {
	for i := range s.E {
		s.L[i] = s.E[i] * cons.L[i]
		s.U[i] = s.E[i] * cons.U[i]
	}
}

func (s *scaled) scaleCost(dst, q []float64) {
	for i := range q {
		dst[i] = s.D[i] * q[i]
	}
}

func (s *scaled) unscaleX(dst, xs []float64) {
	for i := range xs {
		dst[i] = s.D[i] * xs[i]
	}
}

func (s *scaled) unscaleY(dst, ys []float64) {
	for i := range ys {
		dst[i] = s.E[i] * ys[i]
	}
}
