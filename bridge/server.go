package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-keyprobe/adapters/gocommand"
	"github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/query"
)

// Engine is everything the server needs from the run controller.
type Engine interface {
	command.RunService
	query.LogReader
	query.ModelReader
	query.CounterReader
}

type ServerOption func(*Server)

func WithServerLogger(logger core.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithServerLoggerProvider(provider core.LoggerProvider) ServerOption {
	return func(s *Server) {
		s.loggerProvider = provider
	}
}

// Server is the engine side of the boundary. It decodes inbound envelopes,
// runs the matching command or query and writes replies back to the
// connection. Run progress reaches the host through NewEventSink.
type Server struct {
	conn           Conn
	logger         core.Logger
	loggerProvider core.LoggerProvider

	setLanguage *command.SetLanguageCommand
	start       *command.StartTestingCommand
	cancel      *command.CancelTestingCommand
	reset       *command.ResetCommand
	ping        *query.PingQuery
	logs        *query.GetLogsQuery
	models      *query.ListModelsQuery
	counters    *query.CountersQuery

	failOnce sync.Once
}

func NewServer(conn Conn, engine Engine, opts ...ServerOption) (*Server, error) {
	if conn == nil {
		return nil, fmt.Errorf("bridge: connection is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("bridge: engine is required")
	}
	s := &Server{
		conn:        conn,
		setLanguage: command.NewSetLanguageCommand(engine),
		start:       command.NewStartTestingCommand(engine),
		cancel:      command.NewCancelTestingCommand(engine),
		reset:       command.NewResetCommand(engine),
		ping:        query.NewPingQuery(),
		logs:        query.NewGetLogsQuery(engine),
		models:      query.NewListModelsQuery(engine),
		counters:    query.NewCountersQuery(engine),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = core.ResolveLogger("keyprobe.bridge", s.loggerProvider, s.logger)
	return s, nil
}

// Serve handles envelopes until the connection closes or ctx is done. It
// returns an error only for an engine failure or a broken connection.
func (s *Server) Serve(ctx context.Context) error {
	for {
		env, err := s.conn.Recv(ctx)
		if err != nil {
			var frameErr *FrameError
			switch {
			case errors.As(err, &frameErr):
				s.reject(ctx, "", core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "bridge: malformed frame"))
				continue
			case errors.Is(err, io.EOF), errors.Is(err, ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}
		if err := s.Handle(ctx, env); err != nil {
			return err
		}
	}
}

// Handle dispatches one envelope. Command failures become COMMAND_REJECTED;
// a handler panic is reported once as ENGINE_ERROR and returned.
func (s *Server) Handle(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = s.fail(ctx, fmt.Errorf("bridge: %s handler panicked: %v", env.Type, recovered))
		}
	}()

	reply, handleErr := s.dispatch(ctx, env)
	if handleErr != nil {
		s.reject(ctx, env.Type, handleErr)
		return nil
	}
	if reply == nil {
		return nil
	}
	return s.send(ctx, reply)
}

func (s *Server) dispatch(ctx context.Context, env Envelope) (core.Event, error) {
	switch env.Type {
	case query.TypePing:
		return runQuery[query.PingMessage, core.PongEvent](ctx, env, s.ping)
	case query.TypeGetLogs:
		return runQuery[query.GetLogsMessage, core.LogsSnapshot](ctx, env, s.logs)
	case query.TypeListModels:
		return runQuery[query.ListModelsMessage, core.ModelsListed](ctx, env, s.models)
	case query.TypeCounters:
		return runQuery[query.CountersMessage, core.CountersSnapshot](ctx, env, s.counters)
	case command.TypeSetLanguage:
		return nil, runCommand[command.SetLanguageMessage](ctx, env, s.setLanguage)
	case command.TypeStartTesting:
		return nil, runCommand[command.StartTestingMessage](ctx, env, s.start)
	case command.TypeCancelTesting:
		return nil, runCommand[command.CancelTestingMessage](ctx, env, s.cancel)
	case command.TypeReset:
		return nil, runCommand[command.ResetMessage](ctx, env, s.reset)
	default:
		return nil, core.NewError(
			fmt.Sprintf("bridge: unknown message type %q", env.Type),
			goerrors.CategoryBadInput,
			core.ErrorBadInput,
		)
	}
}

func decodeMessage[T any](env Envelope) (T, error) {
	var msg T
	if err := env.Decode(&msg); err != nil {
		return msg, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "bridge: malformed payload")
	}
	if validator, ok := any(msg).(interface{ Validate() error }); ok {
		if err := validator.Validate(); err != nil {
			return msg, err
		}
	}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return msg, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "bridge: invalid message")
	}
	return msg, nil
}

func runCommand[T any](ctx context.Context, env Envelope, cmd gocmd.Commander[T]) error {
	msg, err := decodeMessage[T](env)
	if err != nil {
		return err
	}
	return cmd.Execute(ctx, msg)
}

func runQuery[T any, R core.Event](ctx context.Context, env Envelope, qry gocmd.Querier[T, R]) (core.Event, error) {
	msg, err := decodeMessage[T](env)
	if err != nil {
		return nil, err
	}
	out, err := qry.Query(ctx, msg)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) reject(ctx context.Context, msgType string, err error) {
	code := core.ErrorCode(err)
	core.LogWithLevel(ctx, s.logger, "warn", "command rejected", map[string]any{
		"command":         msgType,
		"error":           err.Error(),
		"error_text_code": code,
	})
	if sendErr := s.send(ctx, core.CommandRejected{Command: msgType, Message: err.Error(), Code: code}); sendErr != nil {
		core.LogError(ctx, s.logger, "command rejection send failed", map[string]any{"error": sendErr.Error()})
	}
}

func (s *Server) fail(ctx context.Context, err error) error {
	s.failOnce.Do(func() {
		core.LogError(ctx, s.logger, "engine failure", map[string]any{"error": err.Error()})
		_ = s.send(context.WithoutCancel(ctx), core.EngineError{Message: err.Error(), Code: core.ErrorEngineFailure})
	})
	return core.WrapError(err, goerrors.CategoryInternal, core.ErrorEngineFailure, "bridge: engine failure")
}

func (s *Server) send(ctx context.Context, event core.Event) error {
	env, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	return s.conn.Send(ctx, env)
}

// NewEventSink frames engine events onto conn.
func NewEventSink(conn Conn) core.EventSink {
	return core.EventSinkFunc(func(ctx context.Context, event core.Event) error {
		env, err := EncodeEvent(event)
		if err != nil {
			return err
		}
		return conn.Send(ctx, env)
	})
}
