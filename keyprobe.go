package keyprobe

import (
	"fmt"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/engine"
	"github.com/goliatone/go-keyprobe/retry"
)

type Config = core.Config

type RunConfig = core.RunConfig

type Controller = engine.Controller

type Option = engine.Option

type CredentialResult = core.CredentialResult
type TestingComplete = core.TestingComplete
type RunCounters = core.RunCounters
type LogEntry = core.LogEntry
type Event = core.Event
type EventSink = core.EventSink
type EventSinkFunc = core.EventSinkFunc
type LogStore = core.LogStore

var (
	WithEventSink       = engine.WithEventSink
	WithEventLogger     = engine.WithEventLogger
	WithRetryPolicy     = engine.WithRetryPolicy
	WithLogger          = engine.WithLogger
	WithLoggerProvider  = engine.WithLoggerProvider
	WithMetricsRecorder = engine.WithMetricsRecorder
	WithSchedulerHook   = engine.WithSchedulerHook
	WithAfterFunc       = engine.WithAfterFunc
	WithIDGenerator     = engine.WithIDGenerator
	WithClock           = engine.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewController(resolver core.AdapterResolver, opts ...Option) (*Controller, error) {
	return engine.New(resolver, opts...)
}

// Setup validates cfg and builds a controller over the built-in providers.
// The retry policy follows cfg.Retry unless opts replace it.
func Setup(cfg Config, opts ...Option) (*Controller, error) {
	return SetupWithExtensions(cfg, nil, opts...)
}

// SetupWithExtensions is Setup plus the provider packs and scheduler hooks
// registered on hooks.
func SetupWithExtensions(cfg Config, hooks *ExtensionHooks, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := NewBuiltinRegistry(BuiltinOptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("keyprobe: build provider registry: %w", err)
	}
	if err := hooks.ApplyProviderPacks(registry); err != nil {
		return nil, fmt.Errorf("keyprobe: apply provider packs: %w", err)
	}
	base := []Option{engine.WithRetryPolicy(retry.NewPolicy(cfg.Retry))}
	base = append(base, hooks.options()...)
	return engine.New(registry, append(base, opts...)...)
}
