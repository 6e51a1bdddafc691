package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/stephane-caron/proxqp-balancer/internal/automation"
	"github.com/stephane-caron/proxqp-balancer/internal/balancer"
	"github.com/stephane-caron/proxqp-balancer/internal/canbus"
	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/logging"
	"github.com/stephane-caron/proxqp-balancer/internal/raspi"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
	"github.com/stephane-caron/proxqp-balancer/internal/storage"
	"github.com/stephane-caron/proxqp-balancer/internal/transport"
	"github.com/stephane-caron/proxqp-balancer/internal/viz"
)

// LoopbackInterface runs the CAN spine against a simulated robot in
// process.
const LoopbackInterface = "loopback"

const liveLogFile = "balancer.log"

type runOptions struct {
	solver      string
	controller  string
	livePlot    bool
	steps       int
	save        bool
	spineKind   string
	address     string
	canIface    string
	scenario    string
	realTime    bool
	writeConfig string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "balance the robot until interrupted or for --steps steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalancer(cmd, opts)
		},
	}
	addConfigFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.solver, "solver", "", "QP solver: proxqp, qpalm, hpipm or osqp")
	f.StringVar(&opts.controller, "controller", "", "mpc, pid, lqr or none")
	f.BoolVar(&opts.livePlot, "live-plot", false, "show the predicted trajectory in the terminal")
	f.IntVar(&opts.steps, "steps", 0, "number of environment steps, 0 to run until interrupted")
	f.BoolVar(&opts.save, "save", false, "store the run under the data directory")
	f.StringVar(&opts.spineKind, "spine", "", "spine to connect to: sim, grpc or can")
	f.StringVar(&opts.address, "address", "", "gRPC spine address")
	f.StringVar(&opts.canIface, "can-interface", "", "CAN interface, or \"loopback\" for an in-process robot")
	f.StringVar(&opts.scenario, "scenario", "", "YAML disturbance scenario for the simulated spine")
	f.BoolVar(&opts.realTime, "real-time", false, "pace the simulated spine at its frequency")
	f.StringVar(&opts.writeConfig, "write-config", "", "write the operative configuration to this file")
	return cmd
}

func (o runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("solver") {
		cfg.Balance.Solver = o.solver
	}
	if f.Changed("controller") {
		cfg.Balance.Controller = o.controller
	}
	if f.Changed("live-plot") {
		cfg.Balance.ShowLivePlot = o.livePlot
	}
	if f.Changed("steps") {
		cfg.Balance.NbEnvSteps = o.steps
	}
	if f.Changed("spine") {
		cfg.Spine.Kind = o.spineKind
	}
	if f.Changed("address") {
		cfg.Spine.Address = o.address
	}
	if f.Changed("can-interface") {
		cfg.Spine.CANInterface = o.canIface
	}
	if f.Changed("scenario") {
		cfg.Spine.Scenario = o.scenario
	}
	if f.Changed("real-time") {
		cfg.Spine.RealTime = o.realTime
	}
}

func runBalancer(cmd *cobra.Command, opts runOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.writeConfig != "" {
		if err := config.Save(opts.writeConfig, cfg); err != nil {
			return err
		}
	}

	onRaspi := raspi.OnRaspi()
	if onRaspi {
		if err := raspi.ConfigureAgentProcess(logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	livePlot := cfg.Balance.ShowLivePlot
	if livePlot && onRaspi {
		logger.Warn("live plot disabled on Raspberry Pi")
		livePlot = false
	}
	if livePlot {
		// The terminal belongs to the live plot from here on.
		f, err := os.OpenFile(liveLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		level, _ := logging.ParseLevel(logLevel)
		logger = logging.SetupTextLogger(f, level)
	}

	sp, err := openSpine(ctx, cfg)
	if err != nil {
		return err
	}
	defer sp.Close()

	balancerOpts := []balancer.Option{
		balancer.WithLogger(logging.ComponentLogger(logger, "balancer")),
	}
	if opts.save {
		balancerOpts = append(balancerOpts, balancer.WithTrace())
	}
	var live *viz.LivePlot
	if livePlot {
		title := fmt.Sprintf("%s balancer (%s)", cfg.Balance.Controller, cfg.Balance.Solver)
		live = viz.NewLivePlot(title, cfg.Balance.NbEnvSteps, viz.DefaultFPS, cancel, tea.WithAltScreen())
		balancerOpts = append(balancerOpts, balancer.WithObserver(live))
	}
	b, err := balancer.New(cfg, balancerOpts...)
	if err != nil {
		return err
	}

	var result *balancer.Result
	var runErr error
	if live == nil {
		result, runErr = b.Run(ctx, sp)
	} else {
		done := make(chan struct{})
		go func() {
			defer close(done)
			result, runErr = b.Run(ctx, sp)
			live.Done(runErr)
		}()
		if err := live.Run(); err != nil {
			logger.Error("live plot failed", "error", err)
		}
		cancel()
		<-done
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Info("balancer interrupted")
		runErr = nil
	}
	if result != nil {
		if _, err := b.Report(result).WriteTo(os.Stdout); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	if opts.save && result != nil {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		id, err := st.Save(cfg, result)
		if err != nil {
			return err
		}
		fmt.Printf("saved run %s\n", id)
	}
	return nil
}

// openSpine connects to the spine selected by the configuration.
func openSpine(ctx context.Context, cfg *config.Config) (spine.Spine, error) {
	spineLogger := logging.ComponentLogger(logger, "spine", "kind", cfg.Spine.Kind)
	switch cfg.Spine.Kind {
	case "sim":
		sim, err := newSim(cfg, spineLogger)
		if err != nil {
			return nil, err
		}
		return sim, nil
	case "grpc":
		client, err := transport.Dial(ctx, cfg.Spine.Address)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "can":
		if cfg.Spine.CANInterface == LoopbackInterface {
			return newLoopbackCANSpine(ctx, cfg, spineLogger)
		}
		bus, err := canbus.DialSocketCAN(ctx, cfg.Spine.CANInterface)
		if err != nil {
			return nil, err
		}
		return canbus.NewSpine(bus, 1/cfg.Spine.Frequency, canbus.WithLogger(spineLogger)), nil
	}
	return nil, fmt.Errorf("%w: unknown spine kind %q", config.ErrInvalidConfig, cfg.Spine.Kind)
}

func newSim(cfg *config.Config, simLogger *slog.Logger) (*spine.Sim, error) {
	opts := []spine.SimOption{spine.WithLogger(simLogger)}
	if cfg.Spine.Scenario != "" {
		scenario, err := automation.LoadScenario(cfg.Spine.Scenario)
		if err != nil {
			return nil, err
		}
		opts = append(opts, spine.WithScenario(scenario))
	}
	return spine.NewSim(cfg.SimConfig(), opts...)
}

// newLoopbackCANSpine serves a simulated robot on one end of an in-memory
// bus and returns the agent spine on the other end.
func newLoopbackCANSpine(ctx context.Context, cfg *config.Config, spineLogger *slog.Logger) (spine.Spine, error) {
	sim, err := newSim(cfg, spineLogger)
	if err != nil {
		return nil, err
	}
	agentBus, robotBus := canbus.NewLoopback(16)
	robot := canbus.NewRobot(robotBus, sim, logging.ComponentLogger(spineLogger, "robot"))
	go func() {
		if err := robot.Serve(ctx); err != nil {
			spineLogger.Error("simulated robot stopped", "error", err)
		}
		sim.Close()
	}()
	return canbus.NewSpine(agentBus, sim.Dt(), canbus.WithLogger(spineLogger)), nil
}
