package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
)

type frame struct {
	env Envelope
	err error
}

// StreamConn frames envelopes as JSON lines over a reader and writer, for
// example the stdin and stdout of an engine subprocess.
type StreamConn struct {
	writeMu sync.Mutex
	w       io.Writer
	closer  io.Closer
	frames  chan frame
	readErr error
	done    chan struct{}
	once    sync.Once
}

func NewStreamConn(r io.Reader, w io.Writer) *StreamConn {
	c := &StreamConn{
		w:      w,
		frames: make(chan frame),
		done:   make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	go c.readLoop(r)
	return c
}

// readLoop splits the input on newlines. Lines have no size cap, so a large
// LOGS reply arrives as one frame.
func (c *StreamConn) readLoop(r io.Reader) {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var env Envelope
			var err error
			if unmarshalErr := json.Unmarshal(line, &env); unmarshalErr != nil {
				err = &FrameError{Err: unmarshalErr}
			}
			select {
			case c.frames <- frame{env: env, err: err}:
			case <-c.done:
				return
			}
		}
		if readErr != nil {
			c.readErr = readErr
			close(c.frames)
			return
		}
	}
}

func (c *StreamConn) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(raw)
	return err
}

// Recv returns io.EOF once the reader is exhausted. A malformed line is
// returned as an error without closing the stream.
func (c *StreamConn) Recv(ctx context.Context) (Envelope, error) {
	select {
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-c.done:
		return Envelope{}, ErrClosed
	case f, ok := <-c.frames:
		if !ok {
			return Envelope{}, c.readErr
		}
		return f.env, f.err
	}
}

func (c *StreamConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}

// FrameError reports a line that is not a valid envelope.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string {
	return "bridge: malformed frame: " + e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

var _ Conn = (*StreamConn)(nil)
