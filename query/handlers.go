package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-keyprobe/core"
)

type LogReader interface {
	Logs(ctx context.Context) ([]core.LogEntry, error)
}

type ModelReader interface {
	ListModels(ctx context.Context, providerID string, credential string, proxyEndpoint string) ([]string, error)
}

type CounterReader interface {
	Counters() core.RunCounters
	Active() bool
}

type PingQuery struct{}

func NewPingQuery() *PingQuery {
	return &PingQuery{}
}

func (q *PingQuery) Query(context.Context, PingMessage) (core.PongEvent, error) {
	return core.PongEvent{}, nil
}

type GetLogsQuery struct {
	reader LogReader
}

func NewGetLogsQuery(reader LogReader) *GetLogsQuery {
	return &GetLogsQuery{reader: reader}
}

func (q *GetLogsQuery) Query(ctx context.Context, _ GetLogsMessage) (core.LogsSnapshot, error) {
	if q == nil || q.reader == nil {
		return core.LogsSnapshot{}, queryDependencyError("query: log reader is required")
	}
	entries, err := q.reader.Logs(ctx)
	if err != nil {
		return core.LogsSnapshot{}, err
	}
	if entries == nil {
		entries = []core.LogEntry{}
	}
	return core.LogsSnapshot{Entries: entries}, nil
}

// ListModelsQuery reports provider failures inside the result so the caller
// can show them next to the provider.
type ListModelsQuery struct {
	reader ModelReader
}

func NewListModelsQuery(reader ModelReader) *ListModelsQuery {
	return &ListModelsQuery{reader: reader}
}

func (q *ListModelsQuery) Query(ctx context.Context, msg ListModelsMessage) (core.ModelsListed, error) {
	if q == nil || q.reader == nil {
		return core.ModelsListed{}, queryDependencyError("query: model reader is required")
	}
	providerID := strings.TrimSpace(strings.ToLower(msg.ProviderID))
	models, err := q.reader.ListModels(ctx, providerID, msg.Credential, msg.ProxyEndpoint)
	if err != nil {
		return core.ModelsListed{ProviderID: providerID, Models: []string{}, Error: err.Error()}, nil
	}
	if models == nil {
		models = []string{}
	}
	return core.ModelsListed{ProviderID: providerID, Models: models}, nil
}

type CountersQuery struct {
	reader CounterReader
}

func NewCountersQuery(reader CounterReader) *CountersQuery {
	return &CountersQuery{reader: reader}
}

func (q *CountersQuery) Query(context.Context, CountersMessage) (core.CountersSnapshot, error) {
	if q == nil || q.reader == nil {
		return core.CountersSnapshot{}, queryDependencyError("query: counter reader is required")
	}
	return core.CountersSnapshot{Active: q.reader.Active(), Counters: q.reader.Counters()}, nil
}
