package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/balancer"
	"github.com/stephane-caron/proxqp-balancer/internal/export"
	"github.com/stephane-caron/proxqp-balancer/internal/metrics"
	"github.com/stephane-caron/proxqp-balancer/internal/storage"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := storage.New(dataDir).List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tCTRL\tSOLVER\tSTEPS\tRESETS\tPLAN (ms)\t|PITCH| (rad)")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.3f\t%.4f\n",
					run.ID,
					run.Timestamp.Format("2006-01-02 15:04:05"),
					run.Controller,
					run.Solver,
					run.Steps,
					run.Resets,
					1e3*run.PlanningTimes.Mean,
					run.BasePitches.Mean,
				)
			}
			return w.Flush()
		},
	}
}

func newPlotCmd() *cobra.Command {
	var pngDir string
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the base pitch and planning times of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			st := storage.New(dataDir)
			cfg, err := st.LoadConfig(runID)
			if err != nil {
				return err
			}
			pitches, err := st.LoadBasePitches(runID)
			if err != nil {
				return err
			}
			times, err := st.LoadPlanningTimes(runID)
			if err != nil {
				return err
			}
			if len(pitches) == 0 {
				return export.ErrNoData
			}

			fmt.Printf("run: %s\n", runID)
			fmt.Printf("samples: %d\n", len(pitches))
			fmt.Printf("pitch oscillation: %.2f Hz\n\n", metrics.DominantFrequency(pitches, 1/cfg.Spine.Frequency))
			fmt.Println(asciigraph.Plot(pitches,
				asciigraph.Height(10),
				asciigraph.Width(80),
				asciigraph.Caption("base pitch [rad]"),
			))
			fmt.Println()
			ms := make([]float64, len(times))
			for i, t := range times {
				ms[i] = 1e3 * t
			}
			fmt.Println(asciigraph.Plot(ms,
				asciigraph.Height(10),
				asciigraph.Width(80),
				asciigraph.Caption("planning time [ms]"),
			))
			fmt.Println()

			if pngDir == "" {
				return nil
			}
			run := export.Run{
				ID:            runID,
				Dt:            1 / cfg.Spine.Frequency,
				BasePitches:   pitches,
				PlanningTimes: times,
				FallPitch:     cfg.Spine.FallPitch,
			}
			if trace, err := st.LoadTrace(runID); err == nil {
				for _, step := range trace {
					run.CommandedSpeed = append(run.CommandedSpeed, step.CommandedVelocity)
				}
			}
			paths, err := export.SaveRunFigures(pngDir, run)
			for _, path := range paths {
				fmt.Println("wrote", path)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&pngDir, "png", "", "also write PNG figures to this directory")
	return cmd
}

func newExportCSVCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export the trace of a run to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return storage.New(dataDir).ExportCSV(w, args[0])
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newExportJSONCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := storage.New(dataDir).Export(args[0])
			if err != nil {
				return err
			}
			return storage.ExportJSONFile(output, data)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report [run_id]",
		Short: "print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			st := storage.New(dataDir)
			cfg, err := st.LoadConfig(runID)
			if err != nil {
				return err
			}
			b, err := balancer.New(cfg, balancer.WithLogger(logger))
			if err != nil {
				return err
			}
			result := &balancer.Result{}
			if result.BasePitches, err = st.LoadBasePitches(runID); err != nil {
				return err
			}
			if result.PlanningTimes, err = st.LoadPlanningTimes(runID); err != nil {
				return err
			}
			_, err = b.Report(result).WriteTo(os.Stdout)
			return err
		},
	}
}
