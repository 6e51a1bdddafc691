package control

import "github.com/stephane-caron/proxqp-balancer/internal/dynamo"

// Controller computes a control input from the current state.
type Controller interface {
	Compute(x dynamo.State, t float64) dynamo.Control
}

type None struct {
	dim int
}

func NewNone(dim int) *None {
	return &None{
		dim: dim,
	}
}

func (n *None) Compute(x dynamo.State, t float64) dynamo.Control {
	return make(dynamo.Control, n.dim)
}
