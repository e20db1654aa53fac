package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/query"
)

var (
	ErrEngineTimeout      = core.NewError("bridge: engine did not finish in time", goerrors.CategoryExternal, core.ErrorEngineTimeout)
	ErrEngineDisconnected = core.NewError("bridge: engine disconnected", goerrors.CategoryExternal, core.ErrorEngineDisconnected)

	errRunComplete = errors.New("bridge: run complete")
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRunTimeout       = 10 * time.Minute
	cancelGrace             = 2 * time.Second
)

type HostOption func(*Host)

func WithHandshakeTimeout(timeout time.Duration) HostOption {
	return func(h *Host) {
		if timeout > 0 {
			h.handshakeTimeout = timeout
		}
	}
}

func WithRunTimeout(timeout time.Duration) HostOption {
	return func(h *Host) {
		if timeout > 0 {
			h.runTimeout = timeout
		}
	}
}

func WithHostLogger(logger core.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

func WithHostLoggerProvider(provider core.LoggerProvider) HostOption {
	return func(h *Host) {
		h.loggerProvider = provider
	}
}

// Host supervises an engine across a Conn. A Host drives one exchange at a
// time.
type Host struct {
	conn             Conn
	handshakeTimeout time.Duration
	runTimeout       time.Duration
	logger           core.Logger
	loggerProvider   core.LoggerProvider
	// abandoned counts runs the host stopped waiting on whose
	// TESTING_COMPLETE has not arrived yet.
	abandoned int
}

func NewHost(conn Conn, opts ...HostOption) (*Host, error) {
	if conn == nil {
		return nil, fmt.Errorf("bridge: connection is required")
	}
	h := &Host{
		conn:             conn,
		handshakeTimeout: DefaultHandshakeTimeout,
		runTimeout:       DefaultRunTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.logger = core.ResolveLogger("keyprobe.host", h.loggerProvider, h.logger)
	return h, nil
}

// Handshake confirms the engine answers PING within the handshake timeout.
func (h *Host) Handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.handshakeTimeout)
	defer cancel()
	_, err := h.request(ctx, query.TypePing, query.PingMessage{}, core.EventPong)
	return err
}

func (h *Host) Logs(ctx context.Context) ([]core.LogEntry, error) {
	event, err := h.request(ctx, query.TypeGetLogs, query.GetLogsMessage{}, core.EventLogs)
	if err != nil {
		return nil, err
	}
	return event.(core.LogsSnapshot).Entries, nil
}

func (h *Host) ListModels(ctx context.Context, msg query.ListModelsMessage) (core.ModelsListed, error) {
	event, err := h.request(ctx, query.TypeListModels, msg, core.EventModels)
	if err != nil {
		return core.ModelsListed{}, err
	}
	return event.(core.ModelsListed), nil
}

func (h *Host) SetLanguage(ctx context.Context, language string) error {
	return h.send(ctx, command.TypeSetLanguage, command.SetLanguageMessage{Language: language})
}

func (h *Host) Reset(ctx context.Context) error {
	return h.send(ctx, command.TypeReset, command.ResetMessage{})
}

// Run starts a run and forwards every event to onEvent until the engine
// reports TESTING_COMPLETE. When the run timeout elapses first the host asks
// the engine to cancel and returns ErrEngineTimeout.
func (h *Host) Run(ctx context.Context, msg command.StartTestingMessage, onEvent func(core.Event)) (core.TestingComplete, error) {
	if err := h.drainAbandoned(ctx); err != nil {
		return core.TestingComplete{}, err
	}
	if err := h.send(ctx, command.TypeStartTesting, msg); err != nil {
		return core.TestingComplete{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, h.runTimeout)
	defer cancel()

	envelopes := make(chan Envelope)
	var complete core.TestingComplete
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return h.pump(groupCtx, envelopes)
	})
	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case env := <-envelopes:
				event, err := DecodeEvent(env)
				if err != nil {
					core.LogWithLevel(groupCtx, h.logger, "warn", "undecodable engine event", map[string]any{
						"type":  env.Type,
						"error": err.Error(),
					})
					continue
				}
				switch typed := event.(type) {
				case core.TestingComplete:
					complete = typed
					if onEvent != nil {
						onEvent(typed)
					}
					return errRunComplete
				case core.CommandRejected:
					if typed.Command == command.TypeStartTesting {
						return rejectionError(typed)
					}
				case core.EngineError:
					return core.NewError(typed.Message, goerrors.CategoryInternal, typed.Code)
				}
				if onEvent != nil {
					onEvent(event)
				}
			}
		}
	})

	err := group.Wait()
	switch {
	case errors.Is(err, errRunComplete):
		return complete, nil
	case ctx.Err() != nil:
		h.abandon(ctx)
		return core.TestingComplete{}, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		h.abandon(ctx)
		core.LogError(ctx, h.logger, "engine run timed out", map[string]any{
			"timeout_ms": h.runTimeout.Milliseconds(),
		})
		return core.TestingComplete{}, ErrEngineTimeout
	}
	return core.TestingComplete{}, err
}

// request sends one message and waits for the reply of type want. Other
// events arriving in between are dropped.
func (h *Host) request(ctx context.Context, msgType string, payload any, want string) (core.Event, error) {
	if err := h.send(ctx, msgType, payload); err != nil {
		return nil, err
	}
	for {
		env, err := h.conn.Recv(ctx)
		if err != nil {
			return nil, h.recvError(ctx, err)
		}
		switch env.Type {
		case want:
			return DecodeEvent(env)
		case core.EventTestingComplete:
			if h.abandoned > 0 {
				h.abandoned--
			}
		case core.EventCommandRejected:
			event, err := DecodeEvent(env)
			if err != nil {
				return nil, err
			}
			rejected := event.(core.CommandRejected)
			if rejected.Command == msgType {
				return nil, rejectionError(rejected)
			}
		case core.EventEngineError:
			event, err := DecodeEvent(env)
			if err != nil {
				return nil, err
			}
			failure := event.(core.EngineError)
			return nil, core.NewError(failure.Message, goerrors.CategoryInternal, failure.Code)
		}
	}
}

func (h *Host) pump(ctx context.Context, out chan<- Envelope) error {
	for {
		env, err := h.conn.Recv(ctx)
		if err != nil {
			return h.recvError(ctx, err)
		}
		select {
		case out <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) recvError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrEngineTimeout
		}
		return ctx.Err()
	}
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return core.WrapError(err, goerrors.CategoryExternal, core.ErrorEngineFailure, "bridge: malformed engine frame")
	}
	return core.WrapError(err, goerrors.CategoryExternal, core.ErrorEngineDisconnected, ErrEngineDisconnected.Message)
}

// abandon cancels the run the host stopped waiting on. Its completion is
// still owed and is consumed before the next run starts.
func (h *Host) abandon(ctx context.Context) {
	h.abandoned++
	h.requestCancel(ctx)
}

// drainAbandoned discards events until every abandoned run has reported
// TESTING_COMPLETE, so a stale completion cannot finish a later run.
func (h *Host) drainAbandoned(ctx context.Context) error {
	if h.abandoned == 0 {
		return nil
	}
	drainCtx, cancel := context.WithTimeout(ctx, h.handshakeTimeout)
	defer cancel()
	for h.abandoned > 0 {
		env, err := h.conn.Recv(drainCtx)
		if err != nil {
			return h.recvError(drainCtx, err)
		}
		if env.Type == core.EventTestingComplete {
			h.abandoned--
		}
	}
	return nil
}

func (h *Host) requestCancel(ctx context.Context) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelGrace)
	defer cancel()
	if err := h.send(cancelCtx, command.TypeCancelTesting, command.CancelTestingMessage{}); err != nil {
		core.LogWithLevel(ctx, h.logger, "warn", "cancel request failed", map[string]any{"error": err.Error()})
	}
}

func (h *Host) send(ctx context.Context, msgType string, payload any) error {
	env, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	if err := h.conn.Send(ctx, env); err != nil {
		return h.recvError(ctx, err)
	}
	return nil
}

func rejectionError(rejected core.CommandRejected) error {
	category := goerrors.CategoryBadInput
	if rejected.Code == core.ErrorRunActive {
		category = goerrors.CategoryConflict
	}
	message := rejected.Message
	if message == "" {
		message = fmt.Sprintf("bridge: %s rejected", rejected.Command)
	}
	return core.NewError(message, category, rejected.Code)
}
