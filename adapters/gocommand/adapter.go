package gocommand

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	probecommand "github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	probequery "github.com/goliatone/go-keyprobe/query"
)

var errNoRegistry = errors.New("gocommand: registry is not configured")

// ValidateMessageContract checks that msg carries a non-blank Type() and
// passes its own Validate(), when it has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	switch {
	case !ok:
		return errors.New("gocommand: message must implement Type() string")
	case strings.TrimSpace(typed.Type()) == "":
		return errors.New("gocommand: message type is required")
	}
	return nil
}

// RegistryAdapter collects keyprobe handlers into a go-command registry.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errNoRegistry
	}
	return nil
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery registers qry. go-command keeps commands and queries in one
// table.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	return a.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors every registered handler into a go-job queue
// registry when the registry is initialized.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return errors.New("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.ready() == nil && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe subscribes cmd on the dispatcher and registers it. The
// subscription is released when registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, errors.New("gocommand: command is required")
	}
	return bind(commanddispatcher.SubscribeCommand(cmd, runnerOpts...), func() error {
		return adapter.RegisterCommand(cmd)
	})
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	if qry == nil {
		return nil, errors.New("gocommand: query is required")
	}
	return bind(commanddispatcher.SubscribeQuery(qry, runnerOpts...), func() error {
		return adapter.RegisterQuery(qry)
	})
}

func bind(subscription commanddispatcher.Subscription, register func() error) (commanddispatcher.Subscription, error) {
	if err := register(); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RunEngine is the controller surface the keyprobe handlers are bound to.
type RunEngine interface {
	probecommand.RunService
	probequery.LogReader
	probequery.ModelReader
	probequery.CounterReader
}

// Subscriptions groups dispatcher subscriptions so they can be released
// together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterRunHandlers binds the four run commands and four queries to engine.
// On failure everything subscribed so far is released.
func RegisterRunHandlers(adapter *RegistryAdapter, engine RunEngine, runnerOpts ...runner.Option) (Subscriptions, error) {
	if engine == nil {
		return nil, errors.New("gocommand: run engine is required")
	}
	type step = func() (commanddispatcher.Subscription, error)
	steps := []step{
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[probecommand.StartTestingMessage](adapter, probecommand.NewStartTestingCommand(engine), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[probecommand.CancelTestingMessage](adapter, probecommand.NewCancelTestingCommand(engine), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[probecommand.ResetMessage](adapter, probecommand.NewResetCommand(engine), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[probecommand.SetLanguageMessage](adapter, probecommand.NewSetLanguageCommand(engine), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[probequery.PingMessage, core.PongEvent](adapter, probequery.NewPingQuery(), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[probequery.GetLogsMessage, core.LogsSnapshot](adapter, probequery.NewGetLogsQuery(engine), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[probequery.ListModelsMessage, core.ModelsListed](adapter, probequery.NewListModelsQuery(engine), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[probequery.CountersMessage, core.CountersSnapshot](adapter, probequery.NewCountersQuery(engine), runnerOpts...)
		},
	}
	var subscriptions Subscriptions
	for _, bindStep := range steps {
		subscription, err := bindStep()
		if err != nil {
			subscriptions.Unsubscribe()
			return nil, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, nil
}
