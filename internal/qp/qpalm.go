package qp

import "log/slog"

type QPALMSettings struct {
	EpsAbs  float64
	EpsRel  float64
	Verbose bool
}

func DefaultQPALMSettings() QPALMSettings {
	return QPALMSettings{EpsAbs: 1e-3, EpsRel: 0}
}

// QPALMWorkspace follows the QPALM algorithm: the proximal weight starts
// large and decays between outer iterations, and each constraint penalty
// grows according to its own residual.
type QPALMWorkspace struct {
	engine *alm
}

func NewQPALMWorkspace(prob *Problem, settings QPALMSettings, logger *slog.Logger) (*QPALMWorkspace, error) {
	engine, err := newALM(prob, almParams{
		name:          "qpalm",
		epsAbs:        settings.EpsAbs,
		epsRel:        settings.EpsRel,
		maxIter:       1000,
		maxInner:      50,
		rho:           1e-1,
		rhoMin:        1e-7,
		rhoDecay:      0.1,
		sigmaInit:     20,
		sigmaMax:      1e9,
		sigmaGrowth:   100,
		perConstraint: true,
		theta:         0.25,
		verbose:       settings.Verbose,
		logger:        orDefault(logger),
	})
	if err != nil {
		return nil, err
	}
	return &QPALMWorkspace{engine: engine}, nil
}

func (w *QPALMWorkspace) Name() string { return "qpalm" }

func (w *QPALMWorkspace) Solve(prob *Problem) (*Solution, error) {
	return w.engine.solve(prob)
}
