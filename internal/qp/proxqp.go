package qp

import "log/slog"

type ProxQPSettings struct {
	EpsAbs               float64
	EpsRel               float64
	UpdatePreconditioner bool
	Verbose              bool
}

func DefaultProxQPSettings() ProxQPSettings {
	return ProxQPSettings{EpsAbs: 1e-3, EpsRel: 0}
}

// ProxQPWorkspace follows the ProxQP algorithm: a primal-dual proximal
// augmented Lagrangian with a fixed small proximal weight and penalties
// that grow together when the primal residual stalls.
type ProxQPWorkspace struct {
	engine *alm
}

func NewProxQPWorkspace(prob *Problem, settings ProxQPSettings, logger *slog.Logger) (*ProxQPWorkspace, error) {
	engine, err := newALM(prob, almParams{
		name:                 "proxqp",
		epsAbs:               settings.EpsAbs,
		epsRel:               settings.EpsRel,
		maxIter:              1000,
		maxInner:             50,
		rho:                  1e-6,
		rhoMin:               1e-6,
		rhoDecay:             1,
		sigmaInit:            10,
		sigmaMax:             1e9,
		sigmaGrowth:          10,
		updatePreconditioner: settings.UpdatePreconditioner,
		verbose:              settings.Verbose,
		logger:               orDefault(logger),
	})
	if err != nil {
		return nil, err
	}
	return &ProxQPWorkspace{engine: engine}, nil
}

func (w *ProxQPWorkspace) Name() string { return "proxqp" }

func (w *ProxQPWorkspace) Solve(prob *Problem) (*Solution, error) {
	return w.engine.solve(prob)
}
