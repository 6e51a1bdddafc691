package qp

import (
	"context"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// almParams configures the proximal augmented Lagrangian engine shared by
// the proxqp and qpalm backends.
type almParams struct {
	name     string
	epsAbs   float64
	epsRel   float64
	maxIter  int
	maxInner int

	// Proximal weight on ||x - x_k||², decayed towards rhoMin after each
	// outer iteration.
	rho      float64
	rhoMin   float64
	rhoDecay float64

	// Constraint penalties. With perConstraint, each penalty grows with
	// its own residual, otherwise all grow together.
	sigmaInit     float64
	sigmaMax      float64
	sigmaGrowth   float64
	perConstraint bool
	theta         float64

	updatePreconditioner bool
	verbose              bool
	logger               *slog.Logger
}

// alm solves l <= C x <= u with an outer multiplier loop around a
// semismooth Newton minimization of the proximal augmented Lagrangian.
type alm struct {
	params almParams
	n      int
	P      *mat.SymDense
	cons   Constraints
	sc     *scaled

	// Last solution in the original space, kept for warm starts.
	x    []float64
	y    []float64
	warm bool
}

func newALM(prob *Problem, params almParams) (*alm, error) {
	if err := prob.Check(); err != nil {
		return nil, err
	}
	n, _ := prob.Dims()
	cons := TwoSided(prob.G, prob.H)
	a := &alm{
		params: params,
		n:      n,
		P:      prob.P,
		cons:   cons,
		x:      make([]float64, n),
		y:      make([]float64, cons.Len()),
	}
	a.sc = newScaled(a.P, &a.cons, ruizIterations)
	return a, nil
}

func (a *alm) solve(prob *Problem) (*Solution, error) {
	start := time.Now()
	if err := a.checkShape(prob); err != nil {
		return nil, err
	}
	p := a.params
	m := a.cons.Len()
	a.cons.Update(prob.H)
	if a.cons.Crossed() {
		sol := failed(StatusPrimalInfeasible, a.n, a.cons.nbG, 0)
		sol.SolveTime = time.Since(start)
		return sol, nil
	}
	if p.updatePreconditioner {
		a.sc = newScaled(a.P, &a.cons, ruizIterations)
	} else {
		a.sc.updateBounds(&a.cons)
	}
	sc := a.sc

	q := make([]float64, a.n)
	sc.scaleCost(q, prob.Q)
	x := make([]float64, a.n)
	y := make([]float64, m)
	if a.warm {
		for i := range x {
			x[i] = a.x[i] / sc.D[i]
		}
		for i := range y {
			y[i] = a.y[i] / sc.E[i]
		}
	}

	sigma := make([]float64, m)
	for i := range sigma {
		sigma[i] = p.sigmaInit
	}
	rho := p.rho

	in := newInnerSolver(sc, q)
	xOrig := make([]float64, a.n)
	yOrig := make([]float64, m)
	prevY := make([]float64, m)
	dy := make([]float64, m)
	sc.unscaleY(prevY, y)
	prevViolation := make([]float64, m)
	prevPrimal := math.Inf(1)
	var res residuals
	for iter := 1; iter <= p.maxIter; iter++ {
		ok := in.minimize(x, y, sigma, rho, p.maxInner)
		if !ok {
			sol := failed(StatusNumericalError, a.n, a.cons.nbG, iter)
			sol.SolveTime = time.Since(start)
			return sol, nil
		}
		copy(y, in.yHat)

		sc.unscaleX(xOrig, x)
		sc.unscaleY(yOrig, y)
		res = computeResiduals(a.P, prob.Q, &a.cons, xOrig, yOrig)
		if p.verbose {
			p.logger.LogAttrs(context.Background(), slog.LevelInfo, "QP iteration",
				slog.String("solver", p.name),
				slog.Int("iter", iter),
				slog.Float64("primal_residual", res.primal),
				slog.Float64("dual_residual", res.dual),
				slog.Float64("rho", rho),
			)
		}
		if res.converged(p.epsAbs, p.epsRel) {
			return a.finish(prob, xOrig, yOrig, StatusSolved, iter, res, start), nil
		}
		if m > 0 {
			floats.SubTo(dy, yOrig, prevY)
			if primalInfeasible(&a.cons, dy) {
				p.logger.Debug("QP is primal infeasible", "solver", p.name, "iter", iter)
				sol := failed(StatusPrimalInfeasible, a.n, a.cons.nbG, iter)
				sol.SolveTime = time.Since(start)
				sol.PrimalResidual = res.primal
				sol.DualResidual = res.dual
				return sol, nil
			}
			copy(prevY, yOrig)
		}

		if p.perConstraint {
			worst := normInf(in.violation)
			for i := range sigma {
				if math.Abs(in.violation[i]) > p.theta*math.Abs(prevViolation[i]) && worst > 0 {
					grown := sigma[i] * p.sigmaGrowth * math.Abs(in.violation[i]) / worst
					sigma[i] = math.Min(p.sigmaMax, math.Max(sigma[i], grown))
				}
			}
			copy(prevViolation, in.violation)
		} else if res.primal > 0.5*prevPrimal {
			for i := range sigma {
				sigma[i] = math.Min(p.sigmaMax, sigma[i]*p.sigmaGrowth)
			}
		}
		prevPrimal = res.primal
		rho = math.Max(p.rhoMin, rho*p.rhoDecay)
	}
	return a.finish(prob, xOrig, yOrig, StatusMaxIterReached, p.maxIter, res, start), nil
}

func (a *alm) finish(prob *Problem, x, y []float64, status Status, iter int, res residuals, start time.Time) *Solution {
	found := status == StatusSolved
	if found {
		copy(a.x, x)
		copy(a.y, y)
		a.warm = true
	}
	return &Solution{
		X:              clone(x),
		Z:              a.cons.Multipliers(y),
		Found:          found,
		Status:         status,
		Iterations:     iter,
		SolveTime:      time.Since(start),
		Objective:      prob.Objective(x),
		PrimalResidual: res.primal,
		DualResidual:   res.dual,
	}
}

func (a *alm) checkShape(prob *Problem) error {
	if err := prob.Check(); err != nil {
		return err
	}
	n, m := prob.Dims()
	if n != a.n || m != a.cons.nbG {
		return dimensionError(a.n, a.cons.nbG, n, m)
	}
	return nil
}

// innerSolver minimizes, for fixed multipliers y and penalties σ,
//
//	φ(x) = ½ xᵀ P x + qᵀ x + ρ/2 ||x - x_k||² + Σ σ_i/2 dist²(C_i x + y_i/σ_i, [l_i, u_i])
//
// whose gradient is piecewise affine, so Newton steps on the active set
// terminate once the active set settles.
type innerSolver struct {
	sc *scaled
	q  []float64

	center    []float64
	grad      []float64
	dir       []float64
	trial     []float64
	cx        []float64
	yHat      []float64
	violation []float64
	active    []bool
}

func newInnerSolver(sc *scaled, q []float64) *innerSolver {
	n := len(q)
	m := len(sc.E)
	return &innerSolver{
		sc:        sc,
		q:         q,
		center:    make([]float64, n),
		grad:      make([]float64, n),
		dir:       make([]float64, n),
		trial:     make([]float64, n),
		cx:        make([]float64, m),
		yHat:      make([]float64, m),
		violation: make([]float64, m),
		active:    make([]bool, m),
	}
}

const (
	innerTolerance = 1e-10
	armijoSlope    = 1e-4
	minStepLength  = 1e-12
)

// minimize updates x in place and leaves the new multiplier estimate in
// yHat. It returns false on factorization failure.
func (s *innerSolver) minimize(x, y, sigma []float64, rho float64, maxInner int) bool {
	copy(s.center, x)
	n := len(x)
	for inner := 0; inner < maxInner; inner++ {
		phi := s.evaluate(x, y, sigma, rho, true)
		if normInf(s.grad) <= innerTolerance {
			return true
		}
		chol, ok := factorize(n, func(h *mat.SymDense) {
			h.CopySym(s.sc.P)
			for i := 0; i < n; i++ {
				h.SetSym(i, i, h.At(i, i)+rho)
			}
			for k, act := range s.active {
				if !act {
					continue
				}
				row := s.sc.C.RawRowView(k)
				for i := 0; i < n; i++ {
					if row[i] == 0 {
						continue
					}
					for j := i; j < n; j++ {
						h.SetSym(i, j, h.At(i, j)+sigma[k]*row[i]*row[j])
					}
				}
			}
		})
		if !ok {
			return false
		}
		floats.ScaleTo(s.trial, -1, s.grad)
		if err := solveChol(chol, s.dir, s.trial); err != nil {
			return false
		}
		slope := floats.Dot(s.grad, s.dir)
		if slope >= 0 {
			break
		}
		t := 1.0
		for t > minStepLength {
			floats.AddScaledTo(s.trial, x, t, s.dir)
			if s.evaluate(s.trial, y, sigma, rho, false) <= phi+armijoSlope*t*slope {
				break
			}
			t *= 0.5
		}
		floats.AddScaled(x, t, s.dir)
	}
	s.evaluate(x, y, sigma, rho, true)
	return true
}

// evaluate returns φ(x). With withGradient, it also refreshes the gradient,
// active set, multiplier estimate and constraint violation at x.
func (s *innerSolver) evaluate(x, y, sigma []float64, rho float64, withGradient bool) float64 {
	n := len(x)
	var px []float64
	if withGradient {
		px = s.grad
	} else {
		px = make([]float64, n)
	}
	mulVec(px, s.sc.P, x)
	phi := 0.5*floats.Dot(x, px) + floats.Dot(s.q, x)
	for i := 0; i < n; i++ {
		d := x[i] - s.center[i]
		phi += 0.5 * rho * d * d
	}
	if withGradient {
		for i := 0; i < n; i++ {
			px[i] += s.q[i] + rho*(x[i]-s.center[i])
		}
	}

	m := len(sigma)
	if m == 0 {
		return phi
	}
	mulVec(s.cx, s.sc.C, x)
	for i := 0; i < m; i++ {
		v := s.cx[i] + y[i]/sigma[i]
		proj := math.Min(math.Max(v, s.sc.L[i]), s.sc.U[i])
		d := v - proj
		phi += 0.5 * sigma[i] * d * d
		if withGradient {
			s.yHat[i] = sigma[i] * d
			s.active[i] = d != 0
			s.violation[i] = s.cx[i] - math.Min(math.Max(s.cx[i], s.sc.L[i]), s.sc.U[i])
		}
	}
	if withGradient {
		ctY := make([]float64, n)
		mulTransVec(ctY, s.sc.C, s.yHat)
		floats.Add(s.grad, ctY)
	}
	return phi
}
