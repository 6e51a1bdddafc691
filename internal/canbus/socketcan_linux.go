//go:build linux

package canbus

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCAN is a Bus on a Linux CAN interface such as can0 or vcan0.
type SocketCAN struct {
	conn   net.Conn
	tx     *socketcan.Transmitter
	frames chan can.Frame
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func DialSocketCAN(ctx context.Context, iface string) (Bus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	b := &SocketCAN{
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		frames: make(chan can.Frame, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go b.receive(socketcan.NewReceiver(conn))
	return b, nil
}

// receive forwards frames until the connection is closed.
func (b *SocketCAN) receive(recv *socketcan.Receiver) {
	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		select {
		case b.frames <- recv.Frame():
		case <-b.done:
			return
		}
	}
	err := recv.Err()
	if err == nil {
		err = ErrBusClosed
	}
	b.errs <- err
}

func (b *SocketCAN) Transmit(ctx context.Context, frame can.Frame) error {
	return b.tx.TransmitFrame(ctx, frame)
}

func (b *SocketCAN) Receive(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case frame := <-b.frames:
		return frame, nil
	case err := <-b.errs:
		b.errs <- err
		return can.Frame{}, err
	}
}

func (b *SocketCAN) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.conn.Close()
	})
	return err
}
