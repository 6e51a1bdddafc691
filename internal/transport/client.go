package transport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

// Client is a spine reached over gRPC.
type Client struct {
	conn *grpc.ClientConn
	dt   float64

	mu     sync.Mutex
	steps  int
	time   float64
	closed bool
}

var _ spine.Spine = (*Client)(nil)

// Dial connects to a spine server and fetches its control period.
func Dial(ctx context.Context, address string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial spine at %s: %w", address, err)
	}

	info := new(InfoResponse)
	if err := conn.Invoke(ctx, infoMethod, &InfoRequest{}, info); err != nil {
		conn.Close()
		return nil, fmt.Errorf("spine info from %s: %w", address, fromStatus(err))
	}
	return &Client{conn: conn, dt: info.Dt}, nil
}

func (c *Client) Dt() float64 {
	return c.dt
}

func (c *Client) Reset(ctx context.Context) (spine.Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return spine.Observation{}, &spine.SpineError{Op: "reset", Step: c.steps, Time: c.time, Wrapped: spine.ErrClosed}
	}

	resp := new(ResetResponse)
	if err := c.conn.Invoke(ctx, resetMethod, &ResetRequest{}, resp); err != nil {
		return spine.Observation{}, &spine.SpineError{Op: "reset", Step: c.steps, Time: c.time, Wrapped: fromStatus(err)}
	}
	c.steps = 0
	c.time = resp.Observation.Time
	return resp.Observation, nil
}

func (c *Client) Step(ctx context.Context, action spine.Action) (spine.StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return spine.StepResult{}, &spine.SpineError{Op: "step", Step: c.steps, Time: c.time, Wrapped: spine.ErrClosed}
	}

	resp := new(StepResponse)
	if err := c.conn.Invoke(ctx, stepMethod, &StepRequest{Action: action}, resp); err != nil {
		return spine.StepResult{}, &spine.SpineError{Op: "step", Step: c.steps, Time: c.time, Wrapped: fromStatus(err)}
	}
	c.steps++
	c.time = resp.Result.Observation.Time
	return resp.Result, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// fromStatus maps status codes set by ErrorsInterceptor back to spine
// errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", spine.ErrNotReset, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	}
	return err
}
