package qp

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var ErrInvalidSettings = errors.New("invalid QP solver settings")

// Workspace is a QP solver instance bound to the matrices of the problem
// it was built from. Solve reads the cost and inequality vectors of prob
// again and warm-starts from the previous solution when one was found.
type Workspace interface {
	Name() string
	Solve(prob *Problem) (*Solution, error)
}

// Settings gathers the per-backend settings. Only the entry of the
// selected backend is read.
type Settings struct {
	ProxQP ProxQPSettings
	QPALM  QPALMSettings
	HPIPM  HPIPMSettings
	OSQP   OSQPSettings
	Logger *slog.Logger
}

func DefaultSettings() Settings {
	return Settings{
		ProxQP: DefaultProxQPSettings(),
		QPALM:  DefaultQPALMSettings(),
		HPIPM:  DefaultHPIPMSettings(),
		OSQP:   DefaultOSQPSettings(),
	}
}

type constructor func(prob *Problem, settings Settings) (Workspace, error)

var solvers = map[string]constructor{
	"proxqp": func(prob *Problem, s Settings) (Workspace, error) {
		return NewProxQPWorkspace(prob, s.ProxQP, s.Logger)
	},
	"qpalm": func(prob *Problem, s Settings) (Workspace, error) {
		return NewQPALMWorkspace(prob, s.QPALM, s.Logger)
	},
	"hpipm": func(prob *Problem, s Settings) (Workspace, error) {
		return NewHPIPMWorkspace(prob, s.HPIPM, s.Logger)
	},
	"osqp": func(prob *Problem, s Settings) (Workspace, error) {
		return NewOSQPWorkspace(prob, s.OSQP, s.Logger)
	},
}

// aliases maps alternative backend names onto registered ones.
var aliases = map[string]string{
	"proxsuite": "proxqp",
}

// Resolve returns the canonical name of a solver.
func Resolve(name string) (string, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	if _, ok := solvers[name]; !ok {
		return "", fmt.Errorf("%w: %q (available: %v)", ErrUnknownSolver, name, Available())
	}
	return name, nil
}

// Available lists solver names, aliases included, in sorted order.
func Available() []string {
	names := make([]string, 0, len(solvers)+len(aliases))
	for name := range solvers {
		names = append(names, name)
	}
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a workspace for the named solver.
func New(name string, prob *Problem, settings Settings) (Workspace, error) {
	canonical, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	return solvers[canonical](prob, settings)
}

// SolveProblem solves prob from scratch with default settings.
func SolveProblem(prob *Problem, solver string) (*Solution, error) {
	canonical, err := Resolve(solver)
	if err != nil {
		return nil, err
	}
	ws, err := solvers[canonical](prob, DefaultSettings())
	if err != nil {
		return nil, err
	}
	return ws.Solve(prob)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func dimensionError(wantN, wantM, gotN, gotM int) error {
	return fmt.Errorf("%w: workspace built for %d variables and %d constraints, got %d and %d",
		ErrDimension, wantN, wantM, gotN, gotM)
}
