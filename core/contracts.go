package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ProviderAdapter interface {
	ID() string
	Validate(ctx context.Context, req ProbeRequest) (TestOutcome, error)
}

// PaidProbe is implemented by adapters whose provider exposes a capability
// gated behind a paid tier.
type PaidProbe interface {
	ProbePaid(ctx context.Context, req ProbeRequest) PaidResult
}

type ModelLister interface {
	ListModels(ctx context.Context, req ProbeRequest) ([]string, error)
}

type AdapterResolver interface {
	Adapter(providerID string) (ProviderAdapter, error)
	List() []ProviderAdapter
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// LogStore persists one record per LogEntry keyed by LogEntry.ID.
type LogStore interface {
	Put(ctx context.Context, entry LogEntry) error
	List(ctx context.Context) ([]LogEntry, error)
	Get(ctx context.Context, id string) (LogEntry, error)
	GetByCredential(ctx context.Context, credential string) (LogEntry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

type Event interface {
	Type() string
}

type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

type EventSinkFunc func(ctx context.Context, event Event) error

func (f EventSinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
