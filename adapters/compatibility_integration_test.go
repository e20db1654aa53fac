package adapters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-keyprobe/adapters/gocommand"
	"github.com/goliatone/go-keyprobe/adapters/gojob"
	"github.com/goliatone/go-keyprobe/adapters/gologger"
	probecommand "github.com/goliatone/go-keyprobe/command"
	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/engine"
	"github.com/goliatone/go-keyprobe/providers"
	"github.com/goliatone/go-keyprobe/providers/devkit"
	"github.com/goliatone/go-keyprobe/retry"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()
	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("scheduler", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	registry, err := providers.NewRegistry(devkit.NewScriptedAdapter("scripted", devkit.Valid("m")).
		Script("limited", devkit.RateLimited(), devkit.Valid("m")))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	controller, err := engine.New(
		registry,
		engine.WithRetryPolicy(&retry.Policy{}),
		engine.WithSchedulerHook(gojob.NewSchedulerHookAdapter(gojob.NewLoggingHook(jobLogger))),
	)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subscriptions, err := gocommand.RegisterRunHandlers(commandAdapter, controller)
	if err != nil {
		t.Fatalf("register run handlers: %v", err)
	}
	defer subscriptions.Unsubscribe()
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(probecommand.TypeStartTesting); !ok {
		t.Fatalf("expected start command to be mirrored into go-job queue registry")
	}

	if err := gocommand.Dispatch(ctx, probecommand.StartTestingMessage{
		Credentials:       []string{"plain", "limited"},
		ProviderID:        "scripted",
		ConcurrencyBudget: 2,
		MaxRetries:        1,
	}); err != nil {
		t.Fatalf("dispatch start: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	complete, err := controller.Wait(waitCtx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if complete.Counters.Valid != 2 {
		t.Fatalf("expected both credentials valid, got %+v", complete.Counters)
	}

	if logger.count("job started") != 3 {
		t.Fatalf("expected three attempt starts through go-job hook, got %d", logger.count("job started"))
	}
	if logger.count("job retry scheduled") != 1 {
		t.Fatalf("expected one retry through go-job hook, got %d", logger.count("job retry scheduled"))
	}
}

type compatProvider struct {
	logger *compatLogger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	return p.logger
}

type compatLogger struct {
	mu    sync.Mutex
	infos []string
}

func (l *compatLogger) Trace(string, ...any) {}
func (l *compatLogger) Debug(string, ...any) {}
func (l *compatLogger) Warn(string, ...any)  {}
func (l *compatLogger) Error(string, ...any) {}
func (l *compatLogger) Fatal(string, ...any) {}

func (l *compatLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *compatLogger) WithContext(context.Context) glog.Logger { return l }

func (l *compatLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, info := range l.infos {
		if info == msg {
			total++
		}
	}
	return total
}

var _ core.Logger = (*compatLogger)(nil)
