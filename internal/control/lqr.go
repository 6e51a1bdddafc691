package control

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/physics"
)

var ErrRiccatiDiverged = errors.New("control: Riccati iteration did not converge")

type LQR struct {
	K      *mat.Dense
	Target dynamo.State
	// Limit clamps each output, zero for no limit.
	Limit float64
}

func NewLQR(k *mat.Dense, target dynamo.State) *LQR {
	return &LQR{K: k, Target: target}
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	nu, nx := l.K.Dims()
	u := make(dynamo.Control, nu)
	for i := range u {
		for j := 0; j < nx && j < len(x); j++ {
			target := 0.0
			if j < len(l.Target) {
				target = l.Target[j]
			}
			u[i] -= l.K.At(i, j) * (x[j] - target)
		}
		if l.Limit > 0 {
			u[i] = math.Max(-l.Limit, math.Min(l.Limit, u[i]))
		}
	}
	return u
}

// SolveDiscreteLQR iterates the discrete algebraic Riccati equation
//
//	S = Q + Aᵀ S A - Aᵀ S B (R + Bᵀ S B)⁻¹ Bᵀ S A
//
// to a fixed point and returns the gain K = (R + Bᵀ S B)⁻¹ Bᵀ S A.
func SolveDiscreteLQR(A, B, Q, R *mat.Dense) (*mat.Dense, error) {
	nx, _ := A.Dims()
	_, nu := B.Dims()
	S := mat.DenseCopyOf(Q)
	K := mat.NewDense(nu, nx, nil)

	var sa, sb, btsb, btsa, atsa, atsb, correction mat.Dense
	for iter := 0; iter < 100000; iter++ {
		sa.Mul(S, A)
		sb.Mul(S, B)
		btsb.Mul(B.T(), &sb)
		btsb.Add(&btsb, R)
		btsa.Mul(B.T(), &sa)
		if err := K.Solve(&btsb, &btsa); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRiccatiDiverged, err)
		}

		atsa.Mul(A.T(), &sa)
		atsb.Mul(A.T(), &sb)
		correction.Mul(&atsb, K)
		next := mat.NewDense(nx, nx, nil)
		next.Sub(&atsa, &correction)
		next.Add(next, Q)

		var diff mat.Dense
		diff.Sub(next, S)
		S = next
		if mat.Norm(&diff, math.Inf(1)) < 1e-10*math.Max(1, mat.Norm(S, math.Inf(1))) {
			return K, nil
		}
	}
	return nil, ErrRiccatiDiverged
}

// NewWheeledPendulumLQR regulates the pendulum to the upright equilibrium
// with diagonal state and input weights.
func NewWheeledPendulumLQR(p *physics.WheeledInvertedPendulum, stateWeights []float64, inputWeight float64) (*LQR, error) {
	if len(stateWeights) != physics.StateDim {
		return nil, fmt.Errorf("%w: need %d state weights, got %d", dynamo.ErrDimensionMismatch, physics.StateDim, len(stateWeights))
	}
	A, B := p.DiscreteMatrices()
	Q := mat.NewDense(physics.StateDim, physics.StateDim, nil)
	for i, w := range stateWeights {
		Q.Set(i, i, w)
	}
	R := mat.NewDense(physics.InputDim, physics.InputDim, []float64{inputWeight})
	K, err := SolveDiscreteLQR(A, B, Q, R)
	if err != nil {
		return nil, err
	}
	lqr := NewLQR(K, make(dynamo.State, physics.StateDim))
	lqr.Limit = p.MaxGroundAccel
	return lqr, nil
}
