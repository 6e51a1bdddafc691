package qp

import (
	"context"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type OSQPSettings struct {
	EpsAbs  float64
	EpsRel  float64
	Verbose bool
}

func DefaultOSQPSettings() OSQPSettings {
	return OSQPSettings{EpsAbs: 1e-3, EpsRel: 0}
}

const (
	osqpSigma        = 1e-6
	osqpAlpha        = 1.6
	osqpRhoInit      = 0.1
	osqpRhoMin       = 1e-6
	osqpRhoMax       = 1e6
	osqpEqualityRho  = 1e3
	osqpMaxIter      = 4000
	osqpCheckEvery   = 5
	osqpAdaptEvery   = 25
	osqpAdaptTrigger = 5.0
)

// OSQPWorkspace is an ADMM operator splitting solver on the two-sided form
// l <= C x <= u. The KKT factorization is cached across solves and only
// recomputed when the step size adapts.
type OSQPWorkspace struct {
	settings OSQPSettings
	logger   *slog.Logger
	n        int
	P        *mat.SymDense
	cons     Constraints
	sc       *scaled

	rho  float64
	chol *mat.Cholesky

	x    []float64
	y    []float64
	warm bool
}

func NewOSQPWorkspace(prob *Problem, settings OSQPSettings, logger *slog.Logger) (*OSQPWorkspace, error) {
	if err := prob.Check(); err != nil {
		return nil, err
	}
	n, _ := prob.Dims()
	cons := TwoSided(prob.G, prob.H)
	w := &OSQPWorkspace{
		settings: settings,
		logger:   orDefault(logger),
		n:        n,
		P:        prob.P,
		cons:     cons,
		rho:      osqpRhoInit,
		x:        make([]float64, n),
		y:        make([]float64, cons.Len()),
	}
	w.sc = newScaled(w.P, &w.cons, ruizIterations)
	w.chol, _ = w.factorize()
	return w, nil
}

func (w *OSQPWorkspace) Name() string { return "osqp" }

// rhoVector assigns a stiffer step to equality rows and a loose one to
// free rows.
func (w *OSQPWorkspace) rhoVector() []float64 {
	rho := make([]float64, w.cons.Len())
	for i := range rho {
		switch {
		case math.IsInf(w.sc.L[i], -1) && math.IsInf(w.sc.U[i], 1):
			rho[i] = osqpRhoMin
		case w.sc.L[i] == w.sc.U[i]:
			rho[i] = osqpEqualityRho * w.rho
		default:
			rho[i] = w.rho
		}
	}
	return rho
}

func (w *OSQPWorkspace) factorize() (*mat.Cholesky, bool) {
	rho := w.rhoVector()
	n := w.n
	return factorize(n, func(k *mat.SymDense) {
		k.CopySym(w.sc.P)
		for i := 0; i < n; i++ {
			k.SetSym(i, i, k.At(i, i)+osqpSigma)
		}
		for r := range rho {
			row := w.sc.C.RawRowView(r)
			for i := 0; i < n; i++ {
				if row[i] == 0 {
					continue
				}
				for j := i; j < n; j++ {
					k.SetSym(i, j, k.At(i, j)+rho[r]*row[i]*row[j])
				}
			}
		}
	})
}

func (w *OSQPWorkspace) Solve(prob *Problem) (*Solution, error) {
	start := time.Now()
	if err := prob.Check(); err != nil {
		return nil, err
	}
	if n, m := prob.Dims(); n != w.n || m != w.cons.nbG {
		return nil, dimensionError(w.n, w.cons.nbG, n, m)
	}
	w.cons.Update(prob.H)
	if w.cons.Crossed() {
		sol := failed(StatusPrimalInfeasible, w.n, w.cons.nbG, 0)
		sol.SolveTime = time.Since(start)
		return sol, nil
	}
	w.sc.updateBounds(&w.cons)
	if w.chol == nil {
		var ok bool
		if w.chol, ok = w.factorize(); !ok {
			sol := failed(StatusNumericalError, w.n, w.cons.nbG, 0)
			sol.SolveTime = time.Since(start)
			return sol, nil
		}
	}

	n, m := w.n, w.cons.Len()
	sc := w.sc
	q := make([]float64, n)
	sc.scaleCost(q, prob.Q)
	x := make([]float64, n)
	y := make([]float64, m)
	z := make([]float64, m)
	if w.warm {
		for i := range x {
			x[i] = w.x[i] / sc.D[i]
		}
		for i := range y {
			y[i] = w.y[i] / sc.E[i]
		}
		if m > 0 {
			mulVec(z, sc.C, x)
			project(z, z, sc.L, sc.U)
		}
	}

	rho := w.rhoVector()
	rhs := make([]float64, n)
	xTilde := make([]float64, n)
	zTilde := make([]float64, m)
	zRelax := make([]float64, m)
	work := make([]float64, m)
	scratch := make([]float64, n)
	xOrig := make([]float64, n)
	yOrig := make([]float64, m)
	prevY := make([]float64, m)
	dy := make([]float64, m)
	sc.unscaleY(prevY, y)
	var res residuals
	for iter := 1; iter <= osqpMaxIter; iter++ {
		for i := range work {
			work[i] = rho[i]*z[i] - y[i]
		}
		mulTransVec(scratch, sc.C, work)
		for i := range rhs {
			rhs[i] = osqpSigma*x[i] - q[i] + scratch[i]
		}
		if err := solveChol(w.chol, xTilde, rhs); err != nil {
			sol := failed(StatusNumericalError, n, w.cons.nbG, iter)
			sol.SolveTime = time.Since(start)
			return sol, nil
		}
		mulVec(zTilde, sc.C, xTilde)
		for i := range x {
			x[i] = osqpAlpha*xTilde[i] + (1-osqpAlpha)*x[i]
		}
		for i := range z {
			zRelax[i] = osqpAlpha*zTilde[i] + (1-osqpAlpha)*z[i]
			work[i] = zRelax[i] + y[i]/rho[i]
		}
		project(z, work, sc.L, sc.U)
		for i := range y {
			y[i] += rho[i] * (zRelax[i] - z[i])
		}

		if iter%osqpCheckEvery != 0 && iter != osqpMaxIter {
			continue
		}
		sc.unscaleX(xOrig, x)
		sc.unscaleY(yOrig, y)
		res = computeResiduals(w.P, prob.Q, &w.cons, xOrig, yOrig)
		if w.settings.Verbose {
			w.logger.LogAttrs(context.Background(), slog.LevelInfo, "QP iteration",
				slog.String("solver", "osqp"),
				slog.Int("iter", iter),
				slog.Float64("primal_residual", res.primal),
				slog.Float64("dual_residual", res.dual),
				slog.Float64("rho", w.rho),
			)
		}
		if res.converged(w.settings.EpsAbs, w.settings.EpsRel) {
			return w.finish(prob, xOrig, yOrig, StatusSolved, iter, res, start), nil
		}
		if m > 0 {
			floats.SubTo(dy, yOrig, prevY)
			if primalInfeasible(&w.cons, dy) {
				w.logger.Debug("QP is primal infeasible", "solver", "osqp", "iter", iter)
				sol := failed(StatusPrimalInfeasible, n, w.cons.nbG, iter)
				sol.SolveTime = time.Since(start)
				sol.PrimalResidual = res.primal
				sol.DualResidual = res.dual
				return sol, nil
			}
			copy(prevY, yOrig)
		}
		if iter%osqpAdaptEvery == 0 && m > 0 {
			if !w.adaptRho(res) {
				sol := failed(StatusNumericalError, n, w.cons.nbG, iter)
				sol.SolveTime = time.Since(start)
				return sol, nil
			}
			rho = w.rhoVector()
		}
	}
	return w.finish(prob, xOrig, yOrig, StatusMaxIterReached, osqpMaxIter, res, start), nil
}

// adaptRho balances the normalized primal and dual residuals. It returns
// false when the refactorization fails.
func (w *OSQPWorkspace) adaptRho(res residuals) bool {
	const tiny = 1e-10
	primal := res.primal / math.Max(res.primalScale, tiny)
	dual := res.dual / math.Max(res.dualScale, tiny)
	if primal < tiny || dual < tiny {
		return true
	}
	next := w.rho * math.Sqrt(primal/dual)
	next = math.Min(math.Max(next, osqpRhoMin), osqpRhoMax)
	if next < osqpAdaptTrigger*w.rho && next > w.rho/osqpAdaptTrigger {
		return true
	}
	w.rho = next
	chol, ok := w.factorize()
	w.chol = chol
	return ok
}

func (w *OSQPWorkspace) finish(prob *Problem, x, y []float64, status Status, iter int, res residuals, start time.Time) *Solution {
	found := status == StatusSolved
	if found {
		copy(w.x, x)
		copy(w.y, y)
		w.warm = true
	}
	return &Solution{
		X:              clone(x),
		Z:              w.cons.Multipliers(y),
		Found:          found,
		Status:         status,
		Iterations:     iter,
		SolveTime:      time.Since(start),
		Objective:      prob.Objective(x),
		PrimalResidual: res.primal,
		DualResidual:   res.dual,
	}
}
