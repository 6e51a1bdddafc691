package canbus

import (
	"context"
	"errors"
	"sync"

	"go.einride.tech/can"
)

var ErrBusClosed = errors.New("canbus: bus closed")

type Bus interface {
	Transmit(ctx context.Context, frame can.Frame) error
	// Receive blocks until a frame arrives or ctx is done.
	Receive(ctx context.Context) (can.Frame, error)
	Close() error
}

// loopbackBus is one end of an in-memory bus.
type loopbackBus struct {
	tx   chan<- can.Frame
	rx   <-chan can.Frame
	done chan struct{}
	once *sync.Once
}

// NewLoopback returns both ends of an in-memory bus. Frames transmitted on
// one end are received on the other. Closing either end closes the bus.
func NewLoopback(buffer int) (Bus, Bus) {
	ab := make(chan can.Frame, buffer)
	ba := make(chan can.Frame, buffer)
	done := make(chan struct{})
	once := &sync.Once{}
	return &loopbackBus{tx: ab, rx: ba, done: done, once: once},
		&loopbackBus{tx: ba, rx: ab, done: done, once: once}
}

func (b *loopbackBus) Transmit(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case b.tx <- frame:
		return nil
	}
}

func (b *loopbackBus) Receive(ctx context.Context) (can.Frame, error) {
	select {
	case <-b.done:
		return can.Frame{}, ErrBusClosed
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case frame := <-b.rx:
		return frame, nil
	}
}

func (b *loopbackBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}
