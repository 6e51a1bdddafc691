package qp

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HPIPM solver modes, from fastest to most reliable.
const (
	ModeSpeedAbs = "speed_abs"
	ModeSpeed    = "speed"
	ModeBalance  = "balance"
	ModeRobust   = "robust"
)

type HPIPMSettings struct {
	Mode   string
	EpsAbs float64
}

func DefaultHPIPMSettings() HPIPMSettings {
	return HPIPMSettings{Mode: ModeBalance, EpsAbs: 1e-3}
}

type ipmMode struct {
	maxIter int
	// Fraction of the distance to the boundary covered by each step.
	stepFraction float64
	// Without residual checks, only complementarity is tested.
	checkResiduals bool
	warmMargin     float64
}

func parseMode(mode string) (ipmMode, error) {
	switch mode {
	case ModeSpeedAbs:
		return ipmMode{maxIter: 15, stepFraction: 0.995, warmMargin: 1e-3}, nil
	case ModeSpeed:
		return ipmMode{maxIter: 15, stepFraction: 0.995, checkResiduals: true, warmMargin: 1e-3}, nil
	case ModeBalance, "":
		return ipmMode{maxIter: 30, stepFraction: 0.995, checkResiduals: true, warmMargin: 1e-3}, nil
	case ModeRobust:
		return ipmMode{maxIter: 100, stepFraction: 0.9, checkResiduals: true, warmMargin: 1e-2}, nil
	}
	return ipmMode{}, fmt.Errorf("%w: unknown HPIPM mode %q", ErrInvalidSettings, mode)
}

// HPIPMWorkspace is a dense primal-dual interior point method with
// Mehrotra predictor-corrector steps on
//
//	G x + s = h,  s >= 0,  z >= 0,
//
// warm-started from the previous primal and dual iterates.
type HPIPMWorkspace struct {
	mode   ipmMode
	tol    float64
	n, m   int
	P      *mat.SymDense
	G      *mat.Dense
	logger *slog.Logger

	x, s, z []float64
	warm    bool
}

func NewHPIPMWorkspace(prob *Problem, settings HPIPMSettings, logger *slog.Logger) (*HPIPMWorkspace, error) {
	if err := prob.Check(); err != nil {
		return nil, err
	}
	mode, err := parseMode(settings.Mode)
	if err != nil {
		return nil, err
	}
	n, m := prob.Dims()
	return &HPIPMWorkspace{
		mode:   mode,
		tol:    settings.EpsAbs,
		n:      n,
		m:      m,
		P:      prob.P,
		G:      prob.G,
		logger: orDefault(logger),
		x:      make([]float64, n),
		s:      make([]float64, m),
		z:      make([]float64, m),
	}, nil
}

func (w *HPIPMWorkspace) Name() string { return "hpipm" }

func (w *HPIPMWorkspace) Solve(prob *Problem) (*Solution, error) {
	start := time.Now()
	if err := prob.Check(); err != nil {
		return nil, err
	}
	if n, m := prob.Dims(); n != w.n || m != w.m {
		return nil, dimensionError(w.n, w.m, n, m)
	}
	var sol *Solution
	if w.m == 0 {
		sol = w.solveUnconstrained(prob)
	} else {
		sol = w.solveConstrained(prob)
	}
	sol.SolveTime = time.Since(start)
	return sol, nil
}

func (w *HPIPMWorkspace) solveUnconstrained(prob *Problem) *Solution {
	chol, ok := factorize(w.n, func(s *mat.SymDense) { s.CopySym(w.P) })
	if !ok {
		return failed(StatusNumericalError, w.n, 0, 0)
	}
	x := make([]float64, w.n)
	negQ := make([]float64, w.n)
	floats.ScaleTo(negQ, -1, prob.Q)
	if err := solveChol(chol, x, negQ); err != nil {
		return failed(StatusNumericalError, w.n, 0, 0)
	}
	return &Solution{
		X:          x,
		Z:          []float64{},
		Found:      true,
		Status:     StatusSolved,
		Iterations: 1,
		Objective:  prob.Objective(x),
	}
}

func (w *HPIPMWorkspace) solveConstrained(prob *Problem) *Solution {
	n, m := w.n, w.m
	x := make([]float64, n)
	s := make([]float64, m)
	z := make([]float64, m)
	gx := make([]float64, m)
	if w.warm {
		copy(x, w.x)
		for i := range s {
			s[i] = math.Max(w.s[i], w.mode.warmMargin)
			z[i] = math.Max(w.z[i], w.mode.warmMargin)
		}
	} else {
		for i := range s {
			s[i] = math.Max(prob.H[i], 1)
			z[i] = 1
		}
	}

	rd := make([]float64, n)
	rp := make([]float64, m)
	rc := make([]float64, m)
	weights := make([]float64, m)
	dx := make([]float64, n)
	ds := make([]float64, m)
	dz := make([]float64, m)
	dsAff := make([]float64, m)
	dzAff := make([]float64, m)
	scratch := make([]float64, n)

	for iter := 0; iter <= w.mode.maxIter; iter++ {
		mulVec(gx, w.G, x)
		mulVec(rd, w.P, x)
		mulTransVec(scratch, w.G, z)
		floats.Add(rd, prob.Q)
		floats.Add(rd, scratch)
		for i := range rp {
			rp[i] = gx[i] + s[i] - prob.H[i]
		}
		mu := floats.Dot(s, z) / float64(m)

		converged := mu <= w.tol
		if w.mode.checkResiduals {
			converged = converged && normInf(rd) <= w.tol && normInf(rp) <= w.tol
		}
		if converged {
			return w.finish(prob, x, s, z, iter, rd)
		}
		if iter == w.mode.maxIter {
			w.logger.Debug("HPIPM reached its iteration limit",
				"max_iter", w.mode.maxIter, "mu", mu, "stationarity", normInf(rd), "feasibility", normInf(rp))
			sol := w.finish(prob, x, s, z, iter, rd)
			sol.Found = false
			sol.Status = StatusMaxIterReached
			w.warm = false
			return sol
		}

		for i := range weights {
			weights[i] = z[i] / s[i]
		}
		chol, ok := factorize(n, func(h *mat.SymDense) {
			h.CopySym(w.P)
			for k := 0; k < m; k++ {
				row := w.G.RawRowView(k)
				for i := 0; i < n; i++ {
					if row[i] == 0 {
						continue
					}
					for j := i; j < n; j++ {
						h.SetSym(i, j, h.At(i, j)+weights[k]*row[i]*row[j])
					}
				}
			}
		})
		if !ok {
			w.warm = false
			return failed(StatusNumericalError, n, m, iter)
		}

		// Predictor
		for i := range rc {
			rc[i] = s[i] * z[i]
		}
		if !w.newtonStep(chol, rd, rp, rc, s, weights, dx, ds, dz, scratch) {
			w.warm = false
			return failed(StatusNumericalError, n, m, iter)
		}
		alpha := math.Min(maxStep(s, ds), maxStep(z, dz))
		muAff := 0.0
		for i := range s {
			muAff += (s[i] + alpha*ds[i]) * (z[i] + alpha*dz[i])
		}
		muAff /= float64(m)
		sigma := math.Pow(muAff/mu, 3)
		copy(dsAff, ds)
		copy(dzAff, dz)

		// Corrector
		for i := range rc {
			rc[i] = s[i]*z[i] + dsAff[i]*dzAff[i] - sigma*mu
		}
		if !w.newtonStep(chol, rd, rp, rc, s, weights, dx, ds, dz, scratch) {
			w.warm = false
			return failed(StatusNumericalError, n, m, iter)
		}
		alpha = math.Min(1, w.mode.stepFraction*math.Min(maxStep(s, ds), maxStep(z, dz)))
		floats.AddScaled(x, alpha, dx)
		floats.AddScaled(s, alpha, ds)
		floats.AddScaled(z, alpha, dz)
	}
	return failed(StatusMaxIterReached, n, m, w.mode.maxIter)
}

// newtonStep solves the linearized KKT system reduced to the primal
// variables:
//
//	(P + Gᵀ W G) dx = -rd - Gᵀ (W rp - S⁻¹ rc)
//	ds = -rp - G dx
//	dz = W (G dx + rp) - S⁻¹ rc
func (w *HPIPMWorkspace) newtonStep(chol *mat.Cholesky, rd, rp, rc, s, weights, dx, ds, dz, scratch []float64) bool {
	r := make([]float64, w.m)
	for i := range r {
		r[i] = weights[i]*rp[i] - rc[i]/s[i]
	}
	mulTransVec(scratch, w.G, r)
	rhs := make([]float64, w.n)
	for i := range rhs {
		rhs[i] = -rd[i] - scratch[i]
	}
	if err := solveChol(chol, dx, rhs); err != nil {
		return false
	}
	gdx := make([]float64, w.m)
	mulVec(gdx, w.G, dx)
	for i := range ds {
		ds[i] = -rp[i] - gdx[i]
		dz[i] = weights[i]*(gdx[i]+rp[i]) - rc[i]/s[i]
	}
	return true
}

// maxStep returns the largest α in [0, 1] such that v + α dv >= 0.
func maxStep(v, dv []float64) float64 {
	alpha := 1.0
	for i := range v {
		if dv[i] < 0 {
			alpha = math.Min(alpha, -v[i]/dv[i])
		}
	}
	return alpha
}

func (w *HPIPMWorkspace) finish(prob *Problem, x, s, z []float64, iter int, rd []float64) *Solution {
	copy(w.x, x)
	copy(w.s, s)
	copy(w.z, z)
	w.warm = true
	return &Solution{
		X:              clone(x),
		Z:              clone(z),
		Found:          true,
		Status:         StatusSolved,
		Iterations:     iter,
		Objective:      prob.Objective(x),
		PrimalResidual: prob.Violation(x),
		DualResidual:   normInf(rd),
	}
}
