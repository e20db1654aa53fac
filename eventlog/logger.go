package eventlog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-keyprobe/core"
)

type Option func(*Logger)

func WithStore(store core.LogStore) Option {
	return func(l *Logger) {
		l.store = store
	}
}

func WithLogger(logger core.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(l *Logger) {
		l.loggerProvider = provider
	}
}

func WithMaxStringLength(max int) Option {
	return func(l *Logger) {
		if max > 0 {
			l.maxStringLength = max
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Logger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// Logger keeps one LogEntry per credential for the current run. It only
// observes: store failures are logged and never surface to callers.
type Logger struct {
	mu      sync.Mutex
	entries map[string]*core.LogEntry
	order   []string

	store           core.LogStore
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	maxStringLength int
	now             func() time.Time
	newID           func() string
}

func New(opts ...Option) *Logger {
	l := &Logger{
		entries:         map[string]*core.LogEntry{},
		maxStringLength: DefaultMaxStringLength,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = core.ResolveLogger("keyprobe.eventlog", l.loggerProvider, l.logger)
	return l
}

// Begin creates the entry for credential, or resets the event sequence of an
// existing one while keeping its id.
func (l *Logger) Begin(ctx context.Context, credential string, providerID string, model string, metadata map[string]any) core.LogEntry {
	sanitizer := l.sanitizer(credential)
	now := l.now()

	l.mu.Lock()
	entry, ok := l.entries[credential]
	if !ok {
		entry = &core.LogEntry{
			ID:         l.newID(),
			Credential: credential,
			CreatedAt:  now,
		}
		l.entries[credential] = entry
		l.order = append(l.order, credential)
	}
	entry.ProviderID = strings.TrimSpace(providerID)
	entry.Model = strings.TrimSpace(model)
	entry.Metadata = sanitizer.Map(metadata)
	entry.Events = []core.AttemptRecord{}
	entry.Attempts = 0
	entry.RetryCount = 0
	entry.CurrentStatus = ""
	entry.FinalStatus = ""
	entry.TotalDurationMs = 0
	entry.UpdatedAt = now
	snapshot := entry.Clone()
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	return snapshot
}

// Observe merges one attempt observation into the credential's entry and
// returns the stored record together with a copy of the updated entry.
func (l *Logger) Observe(ctx context.Context, credential string, event core.AttemptEvent) (core.AttemptRecord, core.LogEntry) {
	sanitizer := l.sanitizer(credential)
	record := core.AttemptRecord{
		Stage:      event.Stage,
		Attempt:    event.Attempt,
		Status:     event.Status,
		StartedAt:  event.StartedAt,
		DurationMs: event.Duration.Milliseconds(),
		IsFinal:    event.IsFinal,
		StatusCode: event.StatusCode,
		Request:    sanitizer.Map(event.Request),
		Response:   sanitizer.Map(event.Response),
		Error:      sanitizer.ErrorInfo(event.Err, "", event.ErrorCode, event.Stack),
	}
	now := l.now()
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}

	l.mu.Lock()
	entry, ok := l.entries[credential]
	if !ok {
		entry = &core.LogEntry{
			ID:         l.newID(),
			Credential: credential,
			CreatedAt:  now,
			Events:     []core.AttemptRecord{},
		}
		l.entries[credential] = entry
		l.order = append(l.order, credential)
	}
	if record.Status == "" {
		record.Status = entry.CurrentStatus
	}
	if record.Attempt > entry.Attempts {
		entry.Attempts = record.Attempt
	}
	if entry.Attempts > 0 {
		entry.RetryCount = entry.Attempts - 1
	}
	if strings.TrimSpace(event.Model) != "" {
		entry.Model = strings.TrimSpace(event.Model)
	}
	entry.Events = append(entry.Events, record)
	entry.CurrentStatus = record.Status
	if record.IsFinal {
		entry.FinalStatus = record.Status
	} else {
		entry.FinalStatus = ""
	}
	entry.TotalDurationMs += record.DurationMs
	entry.UpdatedAt = now
	snapshot := entry.Clone()
	l.mu.Unlock()

	l.persist(ctx, snapshot)
	return record, snapshot
}

func (l *Logger) Entry(credential string) (core.LogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[credential]
	if !ok {
		return core.LogEntry{}, false
	}
	return entry.Clone(), true
}

// Entries returns copies of all entries, oldest first.
func (l *Logger) Entries() []core.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.LogEntry, 0, len(l.order))
	for _, credential := range l.order {
		if entry, ok := l.entries[credential]; ok {
			out = append(out, entry.Clone())
		}
	}
	return out
}

// Reset drops every in-memory entry and clears the durable store.
func (l *Logger) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.entries = map[string]*core.LogEntry{}
	l.order = nil
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.Clear(ctx); err != nil {
		core.LogError(ctx, l.logger, "log store clear failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

func (l *Logger) Store() core.LogStore {
	return l.store
}

func (l *Logger) persist(ctx context.Context, entry core.LogEntry) {
	if l.store == nil {
		return
	}
	if err := l.store.Put(ctx, entry); err != nil {
		core.LogError(ctx, l.logger, "log store put failed", map[string]any{
			"entry_id":   entry.ID,
			"credential": core.MaskCredential(entry.Credential),
			"error":      core.ScrubSecret(err.Error(), entry.Credential),
		})
	}
}

func (l *Logger) sanitizer(credential string) Sanitizer {
	return Sanitizer{MaxStringLength: l.maxStringLength, Secret: credential}
}
