package qp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// mulVec computes dst = a x. Empty operands yield a zero dst.
func mulVec(dst []float64, a mat.Matrix, x []float64) {
	if len(dst) == 0 {
		return
	}
	r, c := a.Dims()
	if c == 0 {
		zero(dst)
		return
	}
	d := mat.NewVecDense(r, dst)
	d.MulVec(a, mat.NewVecDense(c, x))
}

// mulTransVec computes dst = aᵀ y.
func mulTransVec(dst []float64, a *mat.Dense, y []float64) {
	if a == nil || len(y) == 0 {
		zero(dst)
		return
	}
	mulVec(dst, a.T(), y)
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}

func normInf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, math.Inf(1))
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	c := make([]float64, len(v))
	copy(c, v)
	return c
}

// project clamps v into [l, u] componentwise.
func project(dst, v, l, u []float64) {
	for i := range v {
		dst[i] = math.Min(math.Max(v[i], l[i]), u[i])
	}
}

// factorize computes the Cholesky factorization of the symmetric matrix
// built by fill. When the matrix is not numerically positive definite, a
// growing diagonal regularization is added before giving up.
func factorize(n int, fill func(s *mat.SymDense)) (*mat.Cholesky, bool) {
	s := mat.NewSymDense(n, nil)
	reg := 0.0
	for attempt := 0; attempt < 4; attempt++ {
		fill(s)
		if reg > 0 {
			for i := 0; i < n; i++ {
				s.SetSym(i, i, s.At(i, i)+reg)
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(s) {
			return &chol, true
		}
		if reg == 0 {
			reg = 1e-10
		} else {
			reg *= 100
		}
	}
	return nil, false
}

// solveChol solves (LLᵀ) dst = b.
func solveChol(chol *mat.Cholesky, dst, b []float64) error {
	n := len(b)
	d := mat.NewVecDense(n, dst)
	return chol.SolveVecTo(d, mat.NewVecDense(n, b))
}
