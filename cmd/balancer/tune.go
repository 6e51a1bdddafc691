package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/automation"
	"github.com/stephane-caron/proxqp-balancer/internal/logging"
	"github.com/stephane-caron/proxqp-balancer/internal/optim"
)

var defaultTuneParams = []string{
	"balance.terminal_cost_weight=0.1,1,10",
	"balance.stage_state_cost_weight=1e-4,1e-3,1e-2",
	"balance.stage_input_cost_weight=1e-4,1e-3,1e-2",
}

func newTuneCmd() *cobra.Command {
	var (
		params     []string
		workers    int
		steps      int
		monteCarlo int
		seed       int64
		top        int
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search over balancer parameters in simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Balance.NbEnvSteps = steps

			grid := make([]optim.Param, 0, len(params))
			for _, p := range params {
				param, err := parseParam(p)
				if err != nil {
					return err
				}
				grid = append(grid, param)
			}

			opts := []optim.Option{
				optim.WithWorkers(workers),
				optim.WithLogger(logging.ComponentLogger(logger, "tune")),
			}
			if monteCarlo > 0 {
				opts = append(opts, optim.WithScenarios(automation.MonteCarloScenarios(automation.MonteCarloConfig{
					NumTrials:    monteCarlo,
					PushesPerRun: 2,
					Horizon:      float64(steps) / cfg.Spine.Frequency,
					PushDuration: 0.1,
					MaxMagnitude: 2.0,
					MaxPitch:     0.1,
					Seed:         seed,
				})))
			}
			search := optim.NewGridSearch(grid, opts...)
			logger.Info("grid search", "combinations", len(search.Combinations()), "workers", workers)

			best, trials, err := search.Search(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tSCORE\tFALLS\tPARAMETERS")
			for i, trial := range trials {
				if i >= top {
					break
				}
				if trial.Err != nil {
					fmt.Fprintf(w, "-\t-\t-\t%s\n", trial)
					continue
				}
				fmt.Fprintf(w, "%d\t%.4g\t%d/%d\t%v\n", i+1, trial.Score, trial.Falls(), len(trial.Results), trial.Params)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println("\n# Best parameters:")
			for _, p := range grid {
				fmt.Printf("%s = %s\n", p.Name, strconv.FormatFloat(best.Params[p.Name], 'g', -1, 64))
			}
			return nil
		},
	}
	addConfigFlags(cmd)
	f := cmd.Flags()
	f.StringArrayVar(&params, "param", defaultTuneParams, "parameter grid as Scope.key=v1,v2,...")
	f.IntVar(&workers, "workers", 4, "parallel simulations")
	f.IntVar(&steps, "steps", 400, "environment steps per simulation")
	f.IntVar(&monteCarlo, "monte-carlo", 0, "number of random push scenarios per combination")
	f.Int64Var(&seed, "seed", 1, "seed of the push scenarios")
	f.IntVar(&top, "top", 10, "number of trials to print")
	return cmd
}

// parseParam reads "Scope.key=v1,v2,...".
func parseParam(s string) (optim.Param, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(list) == "" {
		return optim.Param{}, fmt.Errorf("invalid parameter grid %q, expected Scope.key=v1,v2,...", s)
	}
	param := optim.Param{Name: strings.TrimSpace(name)}
	for _, raw := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return optim.Param{}, fmt.Errorf("parameter %s: %w", param.Name, err)
		}
		param.Values = append(param.Values, v)
	}
	return param, nil
}
