package balancer_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stephane-caron/proxqp-balancer/internal/balancer"
	"github.com/stephane-caron/proxqp-balancer/internal/config"
	"github.com/stephane-caron/proxqp-balancer/internal/logging"
	"github.com/stephane-caron/proxqp-balancer/internal/mpc"
	"github.com/stephane-caron/proxqp-balancer/internal/qp"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

var _ = Describe("Balancer", func() {
	var (
		ctx     context.Context
		cfg     *config.Config
		sp      *fakeSpine
		ws      *fakeWorkspace
		logs    *bytes.Buffer
		logger  *slog.Logger
		newLoop func(opts ...balancer.Option) *balancer.Balancer
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.DefaultConfig()
		cfg.Balance.NbEnvSteps = 5
		cfg.Balance.NbMPCTimesteps = 10
		sp = newFakeSpine()
		ws = &fakeWorkspace{accel: 2.0, found: true}
		logs = &bytes.Buffer{}
		logger = logging.SetupTextLogger(logs, slog.LevelDebug)
		newLoop = func(opts ...balancer.Option) *balancer.Balancer {
			opts = append([]balancer.Option{balancer.WithLogger(logger), balancer.WithWorkspace(ws)}, opts...)
			b, err := balancer.New(cfg, opts...)
			Expect(err).NotTo(HaveOccurred())
			return b
		}
	})

	It("stops after the configured number of steps", func() {
		result, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Steps).To(Equal(5))
		Expect(sp.actions).To(HaveLen(5))
		Expect(sp.resets).To(Equal(1))
		Expect(result.BasePitches).To(HaveLen(5))
		Expect(result.PlanningTimes).To(HaveLen(5))
		Expect(ws.calls).To(Equal(5))
	})

	It("integrates half the planned acceleration into the commanded velocity", func() {
		_, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(sp.actions[0].GroundVelocity).To(BeZero())
		Expect(sp.actions[1].GroundVelocity).To(BeNumerically("~", 0.005, 1e-12))
		Expect(sp.actions[2].GroundVelocity).To(BeNumerically("~", 0.010, 1e-12))
	})

	It("reads the observed state into the cost vector", func() {
		_, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(ws.lastQ).To(HaveLen(10))
		Expect(ws.lastQ).NotTo(HaveEach(BeZero()))
	})

	It("decays the command without floor contact", func() {
		sp.observations = []spine.Observation{
			{FloorContact: true},
			{FloorContact: false},
		}
		_, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		// alpha = dt / cutoff = 0.05
		Expect(sp.actions[2].GroundVelocity).To(BeNumerically("~", 0.005*0.95, 1e-12))
	})

	It("keeps the previous command when no solution is found", func() {
		ws.found = false
		_, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		for _, action := range sp.actions {
			Expect(action.GroundVelocity).To(BeZero())
		}
		Expect(logs.String()).To(ContainSubstring("No solution found to the MPC problem"))
		Expect(logs.String()).To(ContainSubstring("Solver found no solution to the MPC problem"))
		Expect(logs.String()).To(ContainSubstring("Continuing with previous action"))
	})

	It("resets the spine and the command after a fall", func() {
		sp.terminateAt[3] = true
		result, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Resets).To(Equal(1))
		Expect(sp.resets).To(Equal(2))
		Expect(sp.actions[3].GroundVelocity).To(BeNumerically("~", 0.005, 1e-12))
	})

	It("clamps the commanded velocity and warns", func() {
		ws.accel = 1000
		_, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(sp.actions[1].GroundVelocity).To(Equal(1.0))
		Expect(logs.String()).To(ContainSubstring("commanded_velocity=2.5 is above upper bound 1"))
	})

	It("runs until cancelled when the number of steps is zero", func() {
		cfg.Balance.NbEnvSteps = 0
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		sp.onStep = func(n int) {
			if n == 10 {
				cancel()
			}
		}
		result, err := newLoop().Run(ctx, sp)
		Expect(err).To(MatchError(context.Canceled))
		Expect(result.Steps).To(Equal(10))
		Expect(result.BasePitches).To(BeNil())
		Expect(result.PlanningTimes).To(BeNil())
	})

	It("notifies observers with the plan", func() {
		var plans []*mpc.Plan
		var steps []balancer.Step
		observer := balancer.ObserverFunc(func(step balancer.Step, plan *mpc.Plan) {
			steps = append(steps, step)
			plans = append(plans, plan)
		})
		result, err := newLoop(balancer.WithObserver(observer), balancer.WithTrace()).Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(plans).To(HaveLen(5))
		Expect(plans[0].States().RawMatrix().Rows).To(Equal(11))
		Expect(steps[4].Index).To(Equal(4))
		Expect(steps[4].GroundAccel).To(Equal(2.0))
		Expect(result.Trace).To(Equal(steps))
	})

	It("records metrics", func() {
		result, err := newLoop().Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Metrics).To(HaveKeyWithValue("stability", 1.0))
		Expect(result.Metrics).To(HaveKey("control_effort"))
		Expect(result.Metrics).To(HaveKey("peak_energy"))
	})

	Context("when the QP is solved cold", func() {
		It("bypasses the workspace", func() {
			cfg.Balance.WarmStart = false
			result, err := newLoop().Run(ctx, sp)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Steps).To(Equal(5))
			Expect(ws.calls).To(BeZero())
		})

		It("rebuilds the problem every time", func() {
			cfg.Balance.RebuildQPEveryTime = true
			result, err := newLoop().Run(ctx, sp)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Steps).To(Equal(5))
			Expect(ws.calls).To(BeZero())
		})

		DescribeTable("is only available with ProxQP",
			func(solver string, rebuild, warmStart bool) {
				cfg.Balance.Solver = solver
				cfg.Balance.RebuildQPEveryTime = rebuild
				cfg.Balance.WarmStart = warmStart
				_, err := balancer.New(cfg)
				Expect(err).To(MatchError(qp.ErrProxQPOnly))
			},
			Entry("rebuild with HPIPM", "hpipm", true, true),
			Entry("cold start with QPALM", "qpalm", false, false),
		)
	})

	It("rejects a sampling period shorter than the spine period", func() {
		cfg.Balance.MPCSamplingPeriod = 0.001
		_, err := newLoop().Run(ctx, sp)
		Expect(err).To(MatchError(config.ErrInvalidConfig))
		Expect(sp.actions).To(BeEmpty())
	})

	It("rejects unknown solvers", func() {
		cfg.Balance.Solver = "clarabel"
		_, err := balancer.New(cfg)
		Expect(err).To(MatchError(qp.ErrUnknownSolver))
	})

	It("reports the run", func() {
		b := newLoop()
		result, err := b.Run(ctx, sp)
		Expect(err).NotTo(HaveOccurred())

		report := b.Report(result).String()
		Expect(report).To(ContainSubstring("# Parameters for balance:"))
		Expect(report).To(ContainSubstring("balance.nb_mpc_timesteps = 10"))
		Expect(report).To(ContainSubstring("goal_state=[0 0 0 0]"))
		Expect(report).To(ContainSubstring("nb_timesteps=10"))
		Expect(report).To(ContainSubstring("P.shape=(10, 10)"))
		Expect(report).To(ContainSubstring("q.shape=(10,)"))
		Expect(report).To(ContainSubstring("G.shape=(20, 10)"))
		Expect(report).To(ContainSubstring("Psi.shape=(44, 10)"))
		Expect(report).To(ContainSubstring("ms over 5 calls"))
		Expect(report).To(ContainSubstring("rad over 5 calls"))
	})

	Context("against the simulator", func() {
		var sim *spine.Sim

		BeforeEach(func() {
			var err error
			sim, err = spine.NewSim(config.DefaultConfig().SimConfig())
			Expect(err).NotTo(HaveOccurred())
			cfg.Balance.NbEnvSteps = 1000
		})

		DescribeTable("keeps the robot upright",
			func(controller, solver string) {
				cfg.Balance.Controller = controller
				cfg.Balance.Solver = solver
				b, err := balancer.New(cfg, balancer.WithLogger(logger))
				Expect(err).NotTo(HaveOccurred())
				result, err := b.Run(ctx, sim)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Steps).To(Equal(1000))
				Expect(result.Resets).To(BeZero())
				Expect(result.PlanningTimes).To(HaveEach(BeNumerically(">=", 0)))
				Expect(result.BasePitches).To(HaveLen(1000))
				Expect(result.BasePitches).To(HaveEach(BeNumerically("~", 0, 0.1)))
			},
			Entry("MPC with ProxQP", "mpc", "proxqp"),
			Entry("MPC with QPALM", "mpc", "qpalm"),
			Entry("MPC with HPIPM", "mpc", "hpipm"),
			Entry("MPC with OSQP", "mpc", "osqp"),
			Entry("PID", "pid", "proxqp"),
			Entry("LQR", "lqr", "proxqp"),
		)

		It("lets the robot fall without a controller", func() {
			cfg.Balance.Controller = "none"
			cfg.Balance.NbEnvSteps = 400
			b, err := balancer.New(cfg, balancer.WithLogger(logger))
			Expect(err).NotTo(HaveOccurred())
			result, err := b.Run(ctx, sim)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Resets).To(BeNumerically(">=", 1))
		})
	})
})
