package spine_test

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stephane-caron/proxqp-balancer/internal/automation"
	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

var _ = Describe("Sim", func() {
	var (
		ctx context.Context
		cfg spine.SimConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = spine.DefaultSimConfig()
	})

	It("refuses to step before reset", func() {
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Step(ctx, spine.Action{})
		Expect(err).To(MatchError(spine.ErrNotReset))

		var spineErr *spine.SpineError
		Expect(err).To(BeAssignableToTypeOf(spineErr))
	})

	It("rejects invalid configurations", func() {
		cfg.Frequency = 0
		_, err := spine.NewSim(cfg)
		Expect(err).To(MatchError(dynamo.ErrParameterBounds))
	})

	It("reports its control period", func() {
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(sim.Dt()).To(BeNumerically("~", 0.005, 1e-12))
	})

	It("starts from the initial pitch with floor contact", func() {
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		obs, err := sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(obs.BasePitch).To(Equal(0.05))
		Expect(obs.GroundPosition).To(BeZero())
		Expect(obs.FloorContact).To(BeTrue())
		Expect(obs.Time).To(BeZero())
	})

	It("falls forward without control", func() {
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())

		terminated := false
		for i := 0; i < 1000 && !terminated; i++ {
			res, err := sim.Step(ctx, spine.Action{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation.BasePitch).To(BeNumerically(">", 0))
			terminated = res.Terminated
		}
		Expect(terminated).To(BeTrue())
	})

	It("tracks the commanded ground velocity within its acceleration limit", func() {
		cfg.InitialPitch = 0
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())

		res, err := sim.Step(ctx, spine.Action{GroundVelocity: 1.0})
		Expect(err).NotTo(HaveOccurred())
		// 10 m/s² for 5 ms
		Expect(res.Observation.GroundVelocity).To(BeNumerically("~", 0.05, 1e-9))
		Expect(res.Observation.GroundPosition).To(BeNumerically(">", 0))
		// Accelerating forward tips the base backwards.
		Expect(res.Observation.BaseAngularVelocity).To(BeNumerically("<", 0))

		for i := 0; i < 50; i++ {
			res, err = sim.Step(ctx, spine.Action{GroundVelocity: 1.0})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(res.Observation.GroundVelocity).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("truncates episodes after max steps", func() {
		cfg.InitialPitch = 0
		cfg.MaxSteps = 3
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())

		var res spine.StepResult
		for i := 0; i < 3; i++ {
			Expect(res.Truncated).To(BeFalse())
			res, err = sim.Step(ctx, spine.Action{})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(res.Truncated).To(BeTrue())
		Expect(res.Terminated).To(BeFalse())
	})

	It("applies pushes and lifts from a scenario", func() {
		cfg.InitialPitch = 0
		scenario := &automation.Scenario{
			Disturbances: []automation.Disturbance{
				{Kind: automation.Push, Start: 0, Duration: 0.05, Magnitude: -5},
				{Kind: automation.Lift, Start: 0.1, Duration: 0.1},
			},
		}
		sim, err := spine.NewSim(cfg, spine.WithScenario(scenario))
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())

		var res spine.StepResult
		for i := 0; i < 10; i++ {
			res, err = sim.Step(ctx, spine.Action{})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(res.Observation.BasePitch).To(BeNumerically("<", 0))
		Expect(res.Observation.FloorContact).To(BeTrue())

		for i := 0; i < 12; i++ {
			res, err = sim.Step(ctx, spine.Action{})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(res.Observation.FloorContact).To(BeFalse())
		frozen := res.Observation.BasePitch
		res, err = sim.Step(ctx, spine.Action{})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Observation.BasePitch).To(Equal(frozen))
		Expect(res.Observation.BaseAngularVelocity).To(BeZero())
	})

	It("uses the scenario initial pitch", func() {
		sim, err := spine.NewSim(cfg, spine.WithScenario(&automation.Scenario{InitialPitch: -0.1}))
		Expect(err).NotTo(HaveOccurred())
		obs, err := sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(obs.BasePitch).To(Equal(-0.1))
	})

	It("paces steps in real time", func() {
		cfg.RealTime = true
		cfg.Frequency = 100
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())

		start := time.Now()
		for i := 0; i < 5; i++ {
			_, err = sim.Step(ctx, spine.Action{})
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(time.Since(start)).To(BeNumerically(">=", 40*time.Millisecond))
	})

	It("honors cancellation and close", func() {
		sim, err := spine.NewSim(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = sim.Reset(ctx)
		Expect(err).NotTo(HaveOccurred())

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = sim.Step(cancelled, spine.Action{})
		Expect(err).To(MatchError(context.Canceled))

		Expect(sim.Close()).To(Succeed())
		_, err = sim.Step(ctx, spine.Action{})
		Expect(err).To(MatchError(spine.ErrClosed))
	})
})

var _ = Describe("WheelOdometry", func() {
	It("maps ground motion to mirrored wheel rotations", func() {
		odom := spine.DefaultWheelOdometry()
		left, right := odom.WheelAngles(0.12)
		Expect(left).To(BeNumerically("~", 2.0, 1e-12))
		Expect(right).To(BeNumerically("~", -2.0, 1e-12))
		Expect(odom.Ground(left, right)).To(BeNumerically("~", 0.12, 1e-12))
	})

	It("averages disagreeing wheels", func() {
		odom := spine.DefaultWheelOdometry()
		Expect(math.Abs(odom.Ground(1, 0) - 0.03)).To(BeNumerically("<", 1e-12))
	})
})
