package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/qp"
)

func newSolversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solvers",
		Short: "list available QP solvers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range qp.Available() {
				canonical, _ := qp.Resolve(name)
				if canonical != name {
					fmt.Printf("%s (alias of %s)\n", name, canonical)
					continue
				}
				fmt.Println(name)
			}
		},
	}
}

func newPresetsCmd() *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if show != "" {
				cfg := config.GetPreset(show)
				if cfg == nil {
					return fmt.Errorf("unknown preset %q (available: %v)", show, config.ListPresets())
				}
				fmt.Print(cfg.OperativeString())
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, name := range config.ListPresets() {
				fmt.Fprintf(w, "%s\t%s\n", name, config.Presets[name].Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "print the operative configuration of a preset")
	return cmd
}
