package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/eventlog"
	"github.com/goliatone/go-keyprobe/retry"
	"github.com/goliatone/go-keyprobe/scheduler"
)

// Controller owns run lifecycle: one active run at a time, every status
// transition streamed to the event sink, exactly one completion per run.
type Controller struct {
	resolver       core.AdapterResolver
	sink           core.EventSink
	events         *eventlog.Logger
	policy         *retry.Policy
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	observer       *core.Observer
	hooks          []scheduler.Hook
	afterFunc      func(time.Duration, func()) scheduler.Stopper
	newID          func() string
	now            func() time.Time

	mu       sync.Mutex
	active   *run
	last     *run
	language string
}

type run struct {
	id        string
	cfg       core.RunConfig
	keys      []string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu         sync.Mutex
	closed     atomic.Bool
	states     map[string]*credentialState
	completion *core.TestingComplete
}


type credentialState struct {
	status     core.Status
	retryCount int
	started    bool
	result     core.CredentialResult
}

func New(resolver core.AdapterResolver, opts ...Option) (*Controller, error) {
	if resolver == nil {
		return nil, core.ValidationError("resolver", "adapter resolver is required")
	}
	c := &Controller{
		resolver: resolver,
		sink:     core.EventSinkFunc(func(context.Context, core.Event) error { return nil }),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = core.ResolveLogger("keyprobe.engine", c.loggerProvider, c.logger)
	c.observer = core.NewObserver(c.logger, c.metrics)
	if c.policy == nil {
		c.policy = retry.NewPolicy(core.DefaultConfig().Retry)
	}
	if c.events == nil {
		c.events = eventlog.New(
			eventlog.WithLoggerProvider(c.loggerProvider),
			eventlog.WithLogger(c.logger),
		)
	}
	return c, nil
}

// Start validates cfg, deduplicates credentials and launches a run in the
// background. It returns the run id, or core.ErrRunActive while another run
// is still in progress.
func (c *Controller) Start(ctx context.Context, credentials []string, cfg core.RunConfig) (string, error) {
	r, err := c.start(ctx, credentials, cfg)
	if err != nil {
		return "", err
	}
	return r.id, nil
}

func (c *Controller) start(ctx context.Context, credentials []string, cfg core.RunConfig) (*run, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.isClosed() {
		return nil, core.ErrRunActive
	}

	keys := core.DedupeCredentials(credentials)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:        c.newID(),
		cfg:       cfg,
		keys:      keys,
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: c.now(),
		states:    make(map[string]*credentialState, len(keys)),
	}
	for _, key := range keys {
		r.states[key] = &credentialState{result: core.CredentialResult{Credential: key}}
	}
	c.active = r

	core.LogInfo(ctx, c.logger, "run started", map[string]any{
		"run_id":      r.id,
		"provider_id": cfg.ProviderID,
		"credentials": len(keys),
		"duplicates":  len(credentials) - len(keys),
		"concurrency": cfg.ConcurrencyBudget,
		"max_retries": cfg.MaxRetries,
	})

	go c.execute(r)
	return r, nil
}

// Cancel asks the active run to stop. It is a no-op when idle.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil || r.isClosed() {
		return nil
	}
	core.LogInfo(ctx, c.logger, "run cancel requested", map[string]any{"run_id": r.id})
	r.cancel()
	return nil
}

// Wait blocks until the current run finishes and returns its completion. It
// returns immediately with the last completion when idle.
func (c *Controller) Wait(ctx context.Context) (core.TestingComplete, error) {
	c.mu.Lock()
	r := c.active
	if r == nil {
		r = c.last
	}
	c.mu.Unlock()
	if r == nil {
		return core.TestingComplete{}, nil
	}
	select {
	case <-ctx.Done():
		return core.TestingComplete{}, ctx.Err()
	case <-r.done:
	}
	return r.result()
}

// Run starts a run and waits for it. Cancelling ctx cancels the run; the
// partial completion is still returned.
func (c *Controller) Run(ctx context.Context, credentials []string, cfg core.RunConfig) (core.TestingComplete, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := c.start(ctx, credentials, cfg)
	if err != nil {
		return core.TestingComplete{}, err
	}

	select {
	case <-ctx.Done():
		r.cancel()
		<-r.done
	case <-r.done:
	}
	return r.result()
}

// Reset drops run state, in-memory log entries and the durable store. It is
// rejected while a run is active.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.isClosed() {
		return core.ErrRunActive
	}
	c.active = nil
	c.last = nil
	if err := c.events.Reset(ctx); err != nil {
		return core.WrapError(err, goerrors.CategoryOperation, core.ErrorInternal, "engine: reset log store")
	}
	core.LogInfo(ctx, c.logger, "run state reset", nil)
	return nil
}

// Logs returns copies of every LogEntry, oldest first. When nothing was
// recorded in this process the durable store is consulted.
func (c *Controller) Logs(ctx context.Context) ([]core.LogEntry, error) {
	entries := c.events.Entries()
	if len(entries) > 0 {
		return entries, nil
	}
	store := c.events.Store()
	if store == nil {
		return entries, nil
	}
	stored, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	eventlog.SortEntries(stored)
	return stored, nil
}

// ListModels resolves the provider adapter and asks it for the models the
// credential can reach.
func (c *Controller) ListModels(ctx context.Context, providerID string, credential string, proxyEndpoint string) ([]string, error) {
	startedAt := time.Now()
	providerID = strings.TrimSpace(strings.ToLower(providerID))
	fields := map[string]any{"provider_id": providerID, "credential": core.MaskCredential(credential)}

	adapter, err := c.resolver.Adapter(providerID)
	if err != nil {
		c.observer.ObserveOperation(ctx, startedAt, "list_models", err, fields)
		return nil, err
	}
	lister, ok := adapter.(core.ModelLister)
	if !ok {
		err = core.NewError(
			fmt.Sprintf("engine: provider %q does not list models", providerID),
			goerrors.CategoryBadInput,
			core.ErrorBadInput,
		)
		c.observer.ObserveOperation(ctx, startedAt, "list_models", err, fields)
		return nil, err
	}
	models, err := lister.ListModels(ctx, core.ProbeRequest{
		Credential:    credential,
		ProxyEndpoint: strings.TrimSpace(proxyEndpoint),
	})
	fields["models"] = len(models)
	c.observer.ObserveOperation(ctx, startedAt, "list_models", err, fields)
	if err != nil {
		return nil, err
	}
	return models, nil
}

// Counters reports live counters for the active run, or the final counters
// of the last run.
func (c *Controller) Counters() core.RunCounters {
	c.mu.Lock()
	r := c.active
	if r == nil {
		r = c.last
	}
	c.mu.Unlock()
	if r == nil {
		return core.RunCounters{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completion != nil {
		return r.completion.Counters
	}
	return core.CountResults(r.results())
}

// Active reports whether a run is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && !c.active.isClosed()
}

// SetLanguage records the locale hint. It never affects classification.
func (c *Controller) SetLanguage(language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = strings.TrimSpace(language)
}

func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Controller) execute(r *run) {
	defer close(r.done)
	defer func() {
		if recovered := recover(); recovered != nil {
			c.fail(r, fmt.Errorf("engine: run panicked: %v", recovered))
		}
	}()

	c.beginEntries(r)

	sched, err := scheduler.New(
		r.cfg.ConcurrencyBudget,
		scheduler.RunnerFunc(func(ctx context.Context, task scheduler.Task) scheduler.Verdict {
			return c.attempt(ctx, r, task)
		}),
		scheduler.WithHook(scheduler.Hooks(c.hooks)),
		scheduler.WithAfterFunc(c.afterFunc),
	)
	if err != nil {
		c.fail(r, err)
		return
	}
	report := sched.Run(r.ctx, r.keys)
	c.finish(r, report)
}

// beginEntries opens one log entry per credential. It runs on the run
// goroutine so store writes never hold the controller lock.
func (c *Controller) beginEntries(r *run) {
	ctx := context.WithoutCancel(r.ctx)
	metadata := map[string]any{
		"run_id":            r.id,
		"concurrency":       r.cfg.ConcurrencyBudget,
		"max_retries":       r.cfg.MaxRetries,
		"enable_paid_probe": r.cfg.EnablePaidProbe,
	}
	if r.cfg.ProxyEndpoint != "" {
		metadata["proxy_endpoint"] = r.cfg.ProxyEndpoint
	}
	for _, key := range r.keys {
		c.events.Begin(ctx, key, r.cfg.ProviderID, r.cfg.Model, metadata)
	}
}

func (c *Controller) finish(r *run, report scheduler.Report) {
	ctx := r.ctx
	if report.Cancelled {
		ctx = context.WithoutCancel(r.ctx)
	}

	r.mu.Lock()
	for _, key := range report.Outstanding {
		state := r.states[key]
		if state == nil || state.result.Status != "" {
			continue
		}
		attempt := 0
		if state.started {
			attempt = state.retryCount + 1
		}
		record, entry := c.events.Observe(ctx, key, core.AttemptEvent{
			Stage:     core.StageCancelled,
			Attempt:   attempt,
			Status:    core.StatusCancelled,
			StartedAt: c.now(),
			IsFinal:   true,
		})
		c.emit(ctx, logEvent(entry, record))
		state.status = core.StatusCancelled
		state.result.Status = core.StatusCancelled
		state.result.RetryCount = state.retryCount
		if state.started {
			c.emit(ctx, core.KeyStatusUpdate{
				Credential: key,
				Status:     core.StatusCancelled,
				RetryCount: intPtr(state.retryCount),
			})
		}
	}
	results := r.results()
	completion := core.TestingComplete{
		RunID:     r.id,
		Cancelled: report.Cancelled,
		Counters:  core.CountResults(results),
		Results:   results,
	}
	r.completion = &completion
	r.closed.Store(true)
	c.emit(ctx, completion)
	r.mu.Unlock()
	r.cancel()

	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	if c.active == nil {
		c.last = r
	}
	c.mu.Unlock()

	c.observer.ObserveOperation(ctx, r.startedAt, "run", nil, map[string]any{
		"run_id":       r.id,
		"provider_id":  r.cfg.ProviderID,
		"cancelled":    report.Cancelled,
		"total":        completion.Counters.Total,
		"valid":        completion.Counters.Valid,
		"invalid":      completion.Counters.Invalid,
		"rate_limited": completion.Counters.RateLimited,
		"paid":         completion.Counters.Paid,
		"outcome":      runOutcome(report.Cancelled),
	})
}

// fail reports an engine level failure once and closes the run without a
// completion event.
func (c *Controller) fail(r *run, err error) {
	ctx := context.WithoutCancel(r.ctx)
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return
	}
	r.closed.Store(true)
	c.emit(ctx, core.EngineError{Message: err.Error(), Code: core.ErrorEngineFailure})
	r.mu.Unlock()
	r.cancel()

	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	if c.active == nil {
		c.last = r
	}
	c.mu.Unlock()

	c.observer.ObserveOperation(ctx, r.startedAt, "run", core.WrapError(err, goerrors.CategoryInternal, core.ErrorEngineFailure, "engine: run failed"), map[string]any{
		"run_id":      r.id,
		"provider_id": r.cfg.ProviderID,
	})
}

// emit must be called with the run lock held.
func (c *Controller) emit(ctx context.Context, event core.Event) {
	if err := c.sink.Emit(ctx, event); err != nil {
		core.LogError(ctx, c.logger, "event emit failed", map[string]any{
			"event_type": event.Type(),
			"error":      err.Error(),
		})
	}
}

// isClosed reports whether the completion was recorded. It does not take
// r.mu, which is held across store writes.
func (r *run) isClosed() bool {
	return r.closed.Load()
}

func (r *run) result() (core.TestingComplete, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completion == nil {
		return core.TestingComplete{}, core.NewError("engine: run ended without completion", goerrors.CategoryInternal, core.ErrorEngineFailure)
	}
	out := *r.completion
	out.Results = append([]core.CredentialResult(nil), r.completion.Results...)
	return out, nil
}

// results must be called with the run lock held.
func (r *run) results() []core.CredentialResult {
	out := make([]core.CredentialResult, 0, len(r.keys))
	for _, key := range r.keys {
		state := r.states[key]
		if state == nil {
			continue
		}
		result := state.result
		if result.Status == "" {
			result.Status = state.status
		}
		out = append(out, result)
	}
	return out
}

func logEvent(entry core.LogEntry, record core.AttemptRecord) core.LogEvent {
	return core.LogEvent{
		Credential: entry.Credential,
		ProviderID: entry.ProviderID,
		Model:      entry.Model,
		Metadata:   entry.Metadata,
		Event:      record,
	}
}

func runOutcome(cancelled bool) string {
	if cancelled {
		return "cancelled"
	}
	return "completed"
}

func intPtr(value int) *int {
	return &value
}
