package bridge

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestPipeDeliversBothDirections(t *testing.T) {
	host, engine := NewPipe(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := host.Send(ctx, Envelope{Type: "PING"}); err != nil {
		t.Fatalf("host send: %v", err)
	}
	env, err := engine.Recv(ctx)
	if err != nil || env.Type != "PING" {
		t.Fatalf("engine recv: %+v %v", env, err)
	}
	if err := engine.Send(ctx, Envelope{Type: "PONG"}); err != nil {
		t.Fatalf("engine send: %v", err)
	}
	env, err = host.Recv(ctx)
	if err != nil || env.Type != "PONG" {
		t.Fatalf("host recv: %+v %v", env, err)
	}
}

func TestPipeCloseDrainsThenFails(t *testing.T) {
	host, engine := NewPipe(2)
	ctx := context.Background()
	_ = engine.Send(ctx, Envelope{Type: "LOG_EVENT"})
	_ = engine.Close()

	env, err := host.Recv(ctx)
	if err != nil || env.Type != "LOG_EVENT" {
		t.Fatalf("expected buffered envelope after close, got %+v %v", env, err)
	}
	if _, err := host.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := host.Send(ctx, Envelope{Type: "PING"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected send on closed pipe to fail, got %v", err)
	}
}

func TestPipeRecvHonorsContext(t *testing.T) {
	host, _ := NewPipe(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := host.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type bufferCloser struct {
	strings.Builder
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestStreamConnReadsJSONLines(t *testing.T) {
	input := strings.NewReader("{\"type\":\"PING\"}\n\nnot json\n{\"type\":\"RESET\",\"payload\":{}}\n")
	output := &bufferCloser{}
	conn := NewStreamConn(input, output)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	env, err := conn.Recv(ctx)
	if err != nil || env.Type != "PING" {
		t.Fatalf("first frame: %+v %v", env, err)
	}
	_, err = conn.Recv(ctx)
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected frame error for malformed line, got %v", err)
	}
	env, err = conn.Recv(ctx)
	if err != nil || env.Type != "RESET" {
		t.Fatalf("third frame: %+v %v", env, err)
	}
	if _, err := conn.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if _, err := conn.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF to repeat, got %v", err)
	}

	if err := conn.Send(ctx, Envelope{Type: "PONG"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := output.String(); got != "{\"type\":\"PONG\"}\n" {
		t.Fatalf("unexpected written frame %q", got)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !output.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestStreamConnAcceptsFramesLargerThanScannerLimits(t *testing.T) {
	body := strings.Repeat("x", 20<<20)
	input := strings.NewReader(`{"type":"LOGS","payload":"` + body + `"}` + "\n" + `{"type":"PONG"}`)
	conn := NewStreamConn(input, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := conn.Recv(ctx)
	if err != nil || env.Type != "LOGS" {
		t.Fatalf("large frame: %v", err)
	}
	if len(env.Payload) != len(body)+2 {
		t.Fatalf("expected full payload, got %d bytes", len(env.Payload))
	}
	env, err = conn.Recv(ctx)
	if err != nil || env.Type != "PONG" {
		t.Fatalf("expected trailing frame without newline, got %+v %v", env, err)
	}
	if _, err := conn.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
