// Package optim tunes balancer parameters in simulation.
package optim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/stephane-caron/proxqp-balancer/internal/automation"
	"github.com/stephane-caron/proxqp-balancer/internal/balancer"
	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/metrics"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

// FallPenalty is added to the score of a run for every fall.
const FallPenalty = 1.0

var (
	ErrUnboundedRun = errors.New("optim: balance.nb_env_steps must be positive")
	ErrNoValidTrial = errors.New("optim: no trial succeeded")
)

// Param is a configuration parameter, named "Scope.key" as in gin files,
// and the values to try.
type Param struct {
	Name   string
	Values []float64
}

// Objective scores a run, lower is better.
type Objective func(result *balancer.Result) float64

// MeanPitchObjective is the mean base pitch magnitude plus FallPenalty per
// fall.
func MeanPitchObjective(result *balancer.Result) float64 {
	s := metrics.Summarize(metrics.Abs(result.BasePitches))
	return s.Mean + FallPenalty*float64(result.Resets)
}

// Trial is the evaluation of one parameter combination over all scenarios.
type Trial struct {
	Params  map[string]float64
	Score   float64
	Results []automation.TrialResult
	Err     error
}

func (t Trial) Falls() int {
	_, unstable := automation.MonteCarloStats(t.Results)
	return unstable
}

type GridSearch struct {
	params    []Param
	scenarios []*automation.Scenario
	workers   int
	objective Objective
	logger    *slog.Logger
}

type Option func(*GridSearch)

func WithWorkers(n int) Option {
	return func(g *GridSearch) { g.workers = n }
}

// WithScenarios evaluates every combination under each scenario. Without
// scenarios, each combination runs once on the undisturbed simulator.
func WithScenarios(scenarios []*automation.Scenario) Option {
	return func(g *GridSearch) { g.scenarios = scenarios }
}

func WithObjective(o Objective) Option {
	return func(g *GridSearch) { g.objective = o }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *GridSearch) { g.logger = logger }
}

func NewGridSearch(params []Param, opts ...Option) *GridSearch {
	g := &GridSearch{
		params:    params,
		workers:   runtime.GOMAXPROCS(0),
		objective: MeanPitchObjective,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.workers < 1 {
		g.workers = 1
	}
	return g
}

// Combinations enumerates the grid, the last parameter varying fastest.
func (g *GridSearch) Combinations() []map[string]float64 {
	var out []map[string]float64
	g.combine(0, make(map[string]float64), &out)
	return out
}

func (g *GridSearch) combine(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.params) {
		combo := make(map[string]float64, len(current))
		for k, v := range current {
			combo[k] = v
		}
		*out = append(*out, combo)
		return
	}
	param := g.params[depth]
	for _, v := range param.Values {
		current[param.Name] = v
		g.combine(depth+1, current, out)
	}
	delete(current, param.Name)
}

// Search evaluates every combination on top of base and returns the best
// trial along with all trials sorted by score. Trials whose configuration
// is invalid carry their error and do not stop the search.
func (g *GridSearch) Search(ctx context.Context, base *config.Config) (Trial, []Trial, error) {
	if base.Balance.NbEnvSteps <= 0 {
		return Trial{}, nil, ErrUnboundedRun
	}
	combos := g.Combinations()
	trials := make([]Trial, len(combos))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, combo := range combos {
		eg.Go(func() error {
			trials[i] = g.evaluate(ctx, base, combo)
			if errors.Is(trials[i].Err, context.Canceled) || errors.Is(trials[i].Err, context.DeadlineExceeded) {
				return trials[i].Err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Trial{}, trials, err
	}

	sort.SliceStable(trials, func(i, j int) bool {
		if (trials[i].Err == nil) != (trials[j].Err == nil) {
			return trials[i].Err == nil
		}
		return trials[i].Score < trials[j].Score
	})
	if len(trials) == 0 || trials[0].Err != nil {
		return Trial{}, trials, ErrNoValidTrial
	}
	return trials[0], trials, nil
}

func (g *GridSearch) evaluate(ctx context.Context, base *config.Config, params map[string]float64) Trial {
	trial := Trial{Params: params, Score: math.Inf(1)}
	cfg := base.Clone()
	for name, v := range params {
		if err := cfg.Set(name, strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
			trial.Err = err
			return trial
		}
	}
	cfg.Spine.Kind = "sim"
	cfg.Spine.RealTime = false
	cfg.Balance.ShowLivePlot = false
	if err := cfg.Validate(); err != nil {
		trial.Err = err
		return trial
	}

	scenarios := g.scenarios
	if len(scenarios) == 0 {
		scenarios = []*automation.Scenario{nil}
	}
	total := 0.0
	for _, scenario := range scenarios {
		result, err := g.runScenario(ctx, cfg, scenario)
		if err != nil {
			trial.Err = err
			return trial
		}
		total += g.objective(result)
		trial.Results = append(trial.Results, trialResult(scenario, result))
	}
	trial.Score = total / float64(len(scenarios))
	g.logger.Debug("trial done", "params", params, "score", trial.Score, "falls", trial.Falls())
	return trial
}

func (g *GridSearch) runScenario(ctx context.Context, cfg *config.Config, scenario *automation.Scenario) (*balancer.Result, error) {
	b, err := balancer.New(cfg, balancer.WithLogger(g.logger))
	if err != nil {
		return nil, err
	}
	opts := []spine.SimOption{spine.WithLogger(g.logger)}
	if scenario != nil {
		opts = append(opts, spine.WithScenario(scenario))
	}
	sim, err := spine.NewSim(cfg.SimConfig(), opts...)
	if err != nil {
		return nil, err
	}
	defer sim.Close()
	return b.Run(ctx, sim)
}

func trialResult(scenario *automation.Scenario, result *balancer.Result) automation.TrialResult {
	name := "nominal"
	if scenario != nil {
		name = scenario.Name
	}
	s := metrics.Summarize(metrics.Abs(result.BasePitches))
	return automation.TrialResult{
		Scenario:  name,
		Fell:      result.Resets > 0,
		MaxPitch:  s.Max,
		MeanPitch: s.Mean,
	}
}

func (t Trial) String() string {
	if t.Err != nil {
		return fmt.Sprintf("%v: %v", t.Params, t.Err)
	}
	return fmt.Sprintf("%v: score=%.4g falls=%d/%d", t.Params, t.Score, t.Falls(), len(t.Results))
}
