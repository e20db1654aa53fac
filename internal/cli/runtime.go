package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-keyprobe"
	"github.com/goliatone/go-keyprobe/adapters/gojob"
	"github.com/goliatone/go-keyprobe/adapters/gologger"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/eventlog"
	sqlstore "github.com/goliatone/go-keyprobe/store/sql"
)

// runtime holds what every command needs: the resolved config, the logger
// provider and the durable log store when one is configured.
type runtime struct {
	cfg      core.Config
	provider core.LoggerProvider
	logger   core.Logger
	client   *persistence.Client
	store    core.LogStore
}

func openRuntime(ctx context.Context, flags runFlags) (*runtime, error) {
	cfg, err := loadConfig(ctx, flags)
	if err != nil {
		return nil, err
	}
	provider, logger := gologger.Resolve("cli", newLoggerProvider(os.Stderr, verbose), nil)
	rt := &runtime{cfg: cfg, provider: provider, logger: logger}

	switch strings.TrimSpace(strings.ToLower(cfg.Store.Driver)) {
	case "", "memory":
		return rt, nil
	}
	client, err := sqlstore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to build log cache: %w", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithCacheService(cacheService))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	rt.client = client
	rt.store = factory.LogStore()
	core.LogInfo(ctx, logger, "log store opened", map[string]any{"driver": cfg.Store.Driver})
	return rt, nil
}

// controller builds an engine over the built-in providers. Events go to sink
// and attempt lifecycle transitions are mirrored through the go-job hooks.
func (rt *runtime) controller(sink core.EventSink) (*keyprobe.Controller, error) {
	_, _, _, jobLogger := gologger.ResolveForJob("scheduler", rt.provider, nil)
	events := eventlog.New(
		eventlog.WithStore(rt.store),
		eventlog.WithLoggerProvider(rt.provider),
		eventlog.WithMaxStringLength(rt.cfg.Log.MaxStringLength),
	)
	return keyprobe.Setup(rt.cfg,
		keyprobe.WithEventSink(sink),
		keyprobe.WithEventLogger(events),
		keyprobe.WithLoggerProvider(rt.provider),
		keyprobe.WithSchedulerHook(gojob.NewSchedulerHookAdapter(gojob.NewLoggingHook(jobLogger))),
	)
}

func (rt *runtime) Close() error {
	if rt == nil || rt.client == nil {
		return nil
	}
	return rt.client.Close()
}
