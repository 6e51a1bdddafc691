package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/logging"
	"github.com/stephane-caron/proxqp-balancer/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func newServeSpineCmd() *cobra.Command {
	var listen, scenario string
	var realTime bool
	cmd := &cobra.Command{
		Use:   "serve-spine",
		Short: "serve the simulated spine over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Spine.Address = listen
			}
			if cmd.Flags().Changed("scenario") {
				cfg.Spine.Scenario = scenario
			}
			cfg.Spine.Kind = "sim"
			cfg.Spine.RealTime = realTime
			if err := cfg.Validate(); err != nil {
				return err
			}

			spineLogger := logging.ComponentLogger(logger, "spine", "address", cfg.Spine.Address)
			sim, err := newSim(cfg, spineLogger)
			if err != nil {
				return err
			}
			defer sim.Close()

			lis, err := net.Listen("tcp", cfg.Spine.Address)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Spine.Address, err)
			}
			srv := transport.NewGRPCServer(transport.NewServer(sim, spineLogger))
			return transport.Launch(cmd.Context(), spineLogger, srv, lis, shutdownTimeout)
		},
	}
	addConfigFlags(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default spine.address)")
	cmd.Flags().StringVar(&scenario, "scenario", "", "YAML disturbance scenario")
	cmd.Flags().BoolVar(&realTime, "real-time", true, "pace steps at the spine frequency")
	return cmd
}
