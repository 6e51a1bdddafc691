package qp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// residuals of a two-sided QP evaluated in the original (unscaled) space.
type residuals struct {
	primal      float64
	dual        float64
	primalScale float64
	dualScale   float64
}

func (r residuals) converged(epsAbs, epsRel float64) bool {
	return r.primal <= epsAbs+epsRel*r.primalScale &&
		r.dual <= epsAbs+epsRel*r.dualScale
}

// primalInfeasibleTolerance is relative to the norm of the multiplier
// step, as in OSQP and ProxQP.
const primalInfeasibleTolerance = 1e-5

// primalInfeasible reports whether dy, the step between two multiplier
// estimates, certifies that l <= C x <= u has no solution: Cᵀ dy vanishes
// while the support uᵀ dy₊ + lᵀ dy₋ is negative.
func primalInfeasible(cons *Constraints, dy []float64) bool {
	norm := normInf(dy)
	if norm < 1e-12 || cons.C == nil {
		return false
	}
	eps := primalInfeasibleTolerance * norm
	_, n := cons.C.Dims()
	cty := make([]float64, n)
	mulTransVec(cty, cons.C, dy)
	if normInf(cty) > eps {
		return false
	}
	support := 0.0
	for i, d := range dy {
		switch {
		case d > 0:
			if math.IsInf(cons.U[i], 1) {
				return false
			}
			support += cons.U[i] * d
		case d < 0:
			if math.IsInf(cons.L[i], -1) {
				return false
			}
			support += cons.L[i] * d
		}
	}
	return support < -eps
}

func computeResiduals(P *mat.SymDense, q []float64, cons *Constraints, x, y []float64) residuals {
	n := len(x)
	px := make([]float64, n)
	mulVec(px, P, x)

	var res residuals
	dual := make([]float64, n)
	floats.AddTo(dual, px, q)
	res.dualScale = math.Max(normInf(px), normInf(q))

	if m := cons.Len(); m > 0 {
		cx := make([]float64, m)
		mulVec(cx, cons.C, x)
		for i := range cx {
			proj := math.Min(math.Max(cx[i], cons.L[i]), cons.U[i])
			res.primal = math.Max(res.primal, math.Abs(cx[i]-proj))
			res.primalScale = math.Max(res.primalScale, math.Max(math.Abs(cx[i]), math.Abs(proj)))
		}
		cty := make([]float64, n)
		mulTransVec(cty, cons.C, y)
		floats.Add(dual, cty)
		res.dualScale = math.Max(res.dualScale, normInf(cty))
	}
	res.dual = normInf(dual)
	return res
}
