package control

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"math/cmplx"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/integrators"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
)

func TestNone(t *testing.T) {
	ctrl := NewNone(1)
	u := ctrl.Compute(dynamo.State{1.0, 2.0, 0, 0}, 0.0)

	if len(u) != 1 || u[0] != 0 {
		t.Errorf("expected [0], got %v", u)
	}
}

func TestPitchPID(t *testing.T) {
	ctrl := NewPitchPID(0.4, 10)
	u := ctrl.Compute(dynamo.State{0, 0.1, 0, 0}, 0.0)
	if len(u) != 1 {
		t.Fatalf("expected 1 control, got %d", len(u))
	}
	if u[0] <= 0 {
		t.Error("PID should accelerate forward when leaning forward")
	}
	if ctrl.Kp <= physics.Gravity {
		t.Errorf("Kp = %f does not overcome gravity", ctrl.Kp)
	}

	u = ctrl.Compute(dynamo.State{0, 1.0, 0, 10}, 0.01)
	if u[0] != 10 {
		t.Errorf("output %f not clamped to limit", u[0])
	}
}

func TestPIDReset(t *testing.T) {
	ctrl := NewPID(1, 2, 3)
	ctrl.Ki = 1
	ctrl.Compute(dynamo.State{0, 1, 0, 0}, 0)
	ctrl.Compute(dynamo.State{0, 1, 0, 0}, 1)
	ctrl.Reset()
	if u := ctrl.Compute(dynamo.State{0, 0, 0, 0}, 2); u[0] != 0 {
		t.Errorf("integral not reset: %v", u)
	}
}

func TestLQR(t *testing.T) {
	ctrl := NewLQR(mat.NewDense(1, 2, []float64{1.0, 2.0}), dynamo.State{0.0, 0.0})

	u := ctrl.Compute(dynamo.State{0.0, 0.0}, 0.0)
	if u[0] != 0 {
		t.Errorf("expected zero control at target, got %f", u[0])
	}

	u = ctrl.Compute(dynamo.State{1.0, 0.0}, 0.0)
	if u[0] != -1 {
		t.Errorf("expected -1, got %f", u[0])
	}
}

func TestWheeledPendulumLQRStabilizes(t *testing.T) {
	p, err := physics.NewWheeledInvertedPendulum(0.4, 10, 1, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := NewWheeledPendulumLQR(p, []float64{1, 10, 1, 1}, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	A, B := p.DiscreteMatrices()
	var bk, closed mat.Dense
	bk.Mul(B, ctrl.K)
	closed.Sub(A, &bk)
	var eig mat.Eigen
	if !eig.Factorize(&closed, mat.EigenNone) {
		t.Fatal("eigen decomposition failed")
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v) >= 1 {
			t.Errorf("closed-loop eigenvalue %v is not stable", v)
		}
	}

	if u := ctrl.Compute(dynamo.State{0, 0.05, 0, 0}, 0); u[0] <= 0 {
		t.Errorf("LQR should accelerate forward when leaning forward, got %f", u[0])
	}

	// Nonlinear closed loop with zero-order hold on the acceleration.
	integ := integrators.NewRK4()
	x := dynamo.State{0, 0.1, 0, 0}
	for k := 0; k < 1000; k++ {
		u := ctrl.Compute(x, float64(k)*0.01)
		for i := 0; i < 2; i++ {
			x = integ.Step(p, x, u, 0, 0.005)
		}
	}
	if math.Abs(x[physics.BasePitch]) > 1e-2 || math.Abs(x[physics.GroundPosition]) > 1 {
		t.Errorf("state did not converge: %v", x)
	}
}

func TestWheeledPendulumLQRWeights(t *testing.T) {
	p, _ := physics.NewWheeledInvertedPendulum(0.4, 10, 1, 0.01)
	if _, err := NewWheeledPendulumLQR(p, []float64{1, 1}, 1); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected dimension error, got %v", err)
	}
}

func TestLowPassFilter(t *testing.T) {
	out, err := LowPassFilter(1.0, 0.1, 0.0, 0.005)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out-0.95) > 1e-12 {
		t.Errorf("LowPassFilter = %f, want 0.95", out)
	}

	for i := 0; i < 1000; i++ {
		out, _ = LowPassFilter(out, 0.1, 0.0, 0.005)
	}
	if math.Abs(out) > 1e-6 {
		t.Errorf("filter did not settle: %g", out)
	}

	if _, err := LowPassFilter(1.0, 0.01, 0.0, 0.005); !errors.Is(err, ErrFilterUnstable) {
		t.Errorf("expected ErrFilterUnstable, got %v", err)
	}
}

func TestClampAndWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if v := ClampAndWarn(logger, 0.5, -1, 1, "commanded_velocity"); v != 0.5 {
		t.Errorf("in-range value changed to %f", v)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected warning: %s", buf.String())
	}
	if v := ClampAndWarn(logger, 1.5, -1, 1, "commanded_velocity"); v != 1 {
		t.Errorf("ClampAndWarn = %f, want 1", v)
	}
	if v := ClampAndWarn(logger, -3, -1, 1, "commanded_velocity"); v != -1 {
		t.Errorf("ClampAndWarn = %f, want -1", v)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "commanded_velocity=1.5") {
		t.Errorf("missing warning in %q", out)
	}
}
