package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-keyprobe/core"
)

type logEntryRecord struct {
	bun.BaseModel `bun:"table:keyprobe_log_entries,alias:kle"`

	ID              string               `bun:"id,pk"`
	Credential      string               `bun:"credential,notnull"`
	ProviderID      string               `bun:"provider_id,notnull"`
	Model           string               `bun:"model,notnull"`
	Metadata        map[string]any       `bun:"metadata,type:jsonb,notnull"`
	Events          []core.AttemptRecord `bun:"events,type:jsonb,notnull"`
	Attempts        int                  `bun:"attempts,notnull"`
	RetryCount      int                  `bun:"retry_count,notnull"`
	CurrentStatus   string               `bun:"current_status,notnull"`
	FinalStatus     string               `bun:"final_status,notnull"`
	TotalDurationMs int64                `bun:"total_duration_ms,notnull"`
	CreatedAt       time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newLogEntryRecord(entry core.LogEntry) *logEntryRecord {
	entry = entry.Clone()
	metadata := core.RedactSensitiveMap(entry.Metadata)
	events := entry.Events
	if events == nil {
		events = []core.AttemptRecord{}
	}
	return &logEntryRecord{
		ID:              entry.ID,
		Credential:      entry.Credential,
		ProviderID:      entry.ProviderID,
		Model:           entry.Model,
		Metadata:        metadata,
		Events:          events,
		Attempts:        entry.Attempts,
		RetryCount:      entry.RetryCount,
		CurrentStatus:   string(entry.CurrentStatus),
		FinalStatus:     string(entry.FinalStatus),
		TotalDurationMs: entry.TotalDurationMs,
		CreatedAt:       entry.CreatedAt.UTC(),
		UpdatedAt:       entry.UpdatedAt.UTC(),
	}
}

func (r *logEntryRecord) toDomain() core.LogEntry {
	if r == nil {
		return core.LogEntry{}
	}
	entry := core.LogEntry{
		ID:              r.ID,
		Credential:      r.Credential,
		ProviderID:      r.ProviderID,
		Model:           r.Model,
		Metadata:        r.Metadata,
		Events:          r.Events,
		Attempts:        r.Attempts,
		RetryCount:      r.RetryCount,
		CurrentStatus:   core.Status(r.CurrentStatus),
		FinalStatus:     core.Status(r.FinalStatus),
		TotalDurationMs: r.TotalDurationMs,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if entry.Events == nil {
		entry.Events = []core.AttemptRecord{}
	}
	return entry.Clone()
}
