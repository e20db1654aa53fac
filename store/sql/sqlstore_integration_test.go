package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-keyprobe/core"
	"github.com/goliatone/go-keyprobe/eventlog"
	sqlstore "github.com/goliatone/go-keyprobe/store/sql"
)

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"keyprobe_log_entries",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "keyprobe_log_entries" {
		t.Fatalf("expected keyprobe_log_entries table, got %q", tableName)
	}
}

func TestOpenRejectsUnsupportedDriver(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), core.StoreConfig{Driver: "mysql", DSN: "root@/db"})
	if err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if core.ErrorCode(err) != core.ErrorBadInput {
		t.Fatalf("expected bad input code, got %q", core.ErrorCode(err))
	}
	if _, err := sqlstore.Open(context.Background(), core.StoreConfig{Driver: "sqlite3"}); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestLogStore_PutUpsertsAndPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.LogStore()
	if store == nil {
		t.Fatalf("expected log store from factory")
	}

	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := core.LogEntry{
		ID:         "6f1c7d4e-7d1f-4f7a-9a55-1f0f7cbd1a01",
		Credential: "sk-test-1",
		ProviderID: "openai",
		Model:      "gpt-4o-mini",
		Metadata:   map[string]any{"source": "cli"},
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put new entry: %v", err)
	}

	entry.Events = []core.AttemptRecord{
		{Stage: core.StageAttemptResult, Attempt: 1, Status: core.StatusRateLimited, StatusCode: 429},
		{Stage: core.StageFinal, Attempt: 2, Status: core.StatusValid, IsFinal: true},
	}
	entry.Attempts = 2
	entry.RetryCount = 1
	entry.CurrentStatus = core.StatusValid
	entry.FinalStatus = core.StatusValid
	entry.TotalDurationMs = 250
	entry.CreatedAt = createdAt.Add(time.Hour)
	entry.UpdatedAt = createdAt.Add(time.Minute)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put updated entry: %v", err)
	}

	stored, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if !stored.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected created_at preserved, got %s", stored.CreatedAt)
	}
	if len(stored.Events) != 2 || stored.Events[1].Status != core.StatusValid || !stored.Events[1].IsFinal {
		t.Fatalf("expected events round trip, got %+v", stored.Events)
	}
	if stored.FinalStatus != core.StatusValid || stored.RetryCount != 1 || stored.TotalDurationMs != 250 {
		t.Fatalf("unexpected stored entry %+v", stored)
	}
	if stored.Metadata["source"] != "cli" {
		t.Fatalf("expected metadata round trip, got %#v", stored.Metadata)
	}
}

func TestLogStore_ListLookupDeleteClear(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewLogStore(client.DB())
	if err != nil {
		t.Fatalf("new log store: %v", err)
	}

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	entries := []core.LogEntry{
		{ID: "b5b0f2b8-0f52-4bd3-8d57-000000000002", Credential: "k1", ProviderID: "openai", CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
		{ID: "b5b0f2b8-0f52-4bd3-8d57-000000000001", Credential: "k2", ProviderID: "openai", CreatedAt: base, UpdatedAt: base},
		{ID: "b5b0f2b8-0f52-4bd3-8d57-000000000003", Credential: "k1", ProviderID: "openai", CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(5 * time.Second)},
	}
	for _, entry := range entries {
		if err := store.Put(ctx, entry); err != nil {
			t.Fatalf("put %s: %v", entry.ID, err)
		}
	}

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(listed))
	}
	if listed[0].Credential != "k2" || listed[2].ID != entries[2].ID {
		t.Fatalf("expected created_at ordering, got %+v", listed)
	}

	latest, err := store.GetByCredential(ctx, "k1")
	if err != nil {
		t.Fatalf("get by credential: %v", err)
	}
	if latest.ID != entries[2].ID {
		t.Fatalf("expected latest k1 entry, got %q", latest.ID)
	}

	if err := store.Delete(ctx, entries[2].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, entries[2].ID); !errors.Is(err, core.ErrLogEntryNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	listed, err = store.List(ctx)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty store after clear, got %d", len(listed))
	}
	if _, err := store.GetByCredential(ctx, "k2"); !errors.Is(err, core.ErrLogEntryNotFound) {
		t.Fatalf("expected not found by credential after clear, got %v", err)
	}
}

func TestLogStore_BacksEventLogger(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithCacheService(cacheService))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	if _, ok := factory.LogStore().(*sqlstore.CachedLogStore); !ok {
		t.Fatalf("expected cached log store, got %T", factory.LogStore())
	}

	logger := eventlog.New(eventlog.WithStore(factory.LogStore()))
	credential := "AIzaSy-test-credential"
	entry := logger.Begin(ctx, credential, "gemini", "gemini-2.0-flash", nil)
	logger.Observe(ctx, credential, core.AttemptEvent{
		Stage:      core.StageFinal,
		Attempt:    1,
		Status:     core.StatusInvalid,
		IsFinal:    true,
		StatusCode: 401,
		Request:    map[string]any{"url": "https://example.test/v1?key=" + credential},
	})

	stored, err := factory.LogStore().Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get persisted entry: %v", err)
	}
	if stored.FinalStatus != core.StatusInvalid || len(stored.Events) != 1 {
		t.Fatalf("expected persisted final record, got %+v", stored)
	}
	if url := fmt.Sprint(stored.Events[0].Request["url"]); url == "" || strings.Contains(url, credential) {
		t.Fatalf("expected scrubbed url, got %q", url)
	}

	if err := logger.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := factory.LogStore().Get(ctx, entry.ID); !errors.Is(err, core.ErrLogEntryNotFound) {
		t.Fatalf("expected not found after reset, got %v", err)
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:keyprobe-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	client, err := sqlstore.Open(context.Background(), core.StoreConfig{Driver: "sqlite3", DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return client, func() {
		_ = client.Close()
	}
}
