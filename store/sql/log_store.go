package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-keyprobe/core"
)

// LogStore persists one row per LogEntry keyed by its id.
type LogStore struct {
	db   *bun.DB
	repo repository.Repository[*logEntryRecord]
}

func NewLogStore(db *bun.DB) (*LogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*logEntryRecord](db, logEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid log entry repository wiring: %w", err)
		}
	}
	return &LogStore{db: db, repo: repo}, nil
}

func (s *LogStore) Put(ctx context.Context, entry core.LogEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: log store is not configured")
	}
	entry.ID = strings.TrimSpace(entry.ID)
	if entry.ID == "" {
		return core.ValidationError("id", "log entry id is required")
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}
	record := newLogEntryRecord(entry)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*logEntryRecord)(nil)).
			Where("?TableAlias.id = ?", record.ID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

// List returns every entry ordered by creation time, oldest first.
func (s *LogStore) List(ctx context.Context) ([]core.LogEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: log store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.OrderBy("created_at ASC"),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("?TableAlias.id ASC")
		}),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.LogEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *LogStore) Get(ctx context.Context, id string) (core.LogEntry, error) {
	if s == nil || s.db == nil {
		return core.LogEntry{}, fmt.Errorf("sqlstore: log store is not configured")
	}
	record := &logEntryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LogEntry{}, core.ErrLogEntryNotFound
		}
		return core.LogEntry{}, err
	}
	return record.toDomain(), nil
}

// GetByCredential returns the most recently updated entry for credential.
func (s *LogStore) GetByCredential(ctx context.Context, credential string) (core.LogEntry, error) {
	if s == nil || s.repo == nil {
		return core.LogEntry{}, fmt.Errorf("sqlstore: log store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("credential", "=", credential),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.LogEntry{}, err
	}
	if len(records) == 0 {
		return core.LogEntry{}, core.ErrLogEntryNotFound
	}
	return records[0].toDomain(), nil
}

func (s *LogStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: log store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*logEntryRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

func (s *LogStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: log store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*logEntryRecord)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}
