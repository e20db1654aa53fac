package bridge

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("bridge: connection closed")

// Conn is one side of the host/engine boundary. Send and Recv are safe for
// concurrent use.
type Conn interface {
	Send(ctx context.Context, env Envelope) error
	Recv(ctx context.Context) (Envelope, error)
	Close() error
}

type pipeConn struct {
	in     <-chan Envelope
	out    chan<- Envelope
	closed chan struct{}
	once   *sync.Once
}

// NewPipe returns two connected in-process ends. Closing either end closes
// both.
func NewPipe(buffer int) (Conn, Conn) {
	if buffer < 0 {
		buffer = 0
	}
	hostToEngine := make(chan Envelope, buffer)
	engineToHost := make(chan Envelope, buffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	host := &pipeConn{in: engineToHost, out: hostToEngine, closed: closed, once: once}
	engine := &pipeConn{in: hostToEngine, out: engineToHost, closed: closed, once: once}
	return host, engine
}

func (c *pipeConn) Send(ctx context.Context, env Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	case c.out <- env:
		return nil
	}
}

func (c *pipeConn) Recv(ctx context.Context) (Envelope, error) {
	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		select {
		case env := <-c.in:
			return env, nil
		default:
		}
		return Envelope{}, ErrClosed
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
