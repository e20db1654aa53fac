package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-keyprobe/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	entries := []core.LogEntry{
		{ID: "b", Credential: "k1", CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
		{ID: "a", Credential: "k2", CreatedAt: base, UpdatedAt: base},
		{ID: "c", Credential: "k1", CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(3 * time.Second)},
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
	if len(listed) != 3 || listed[0].ID != "a" || listed[2].ID != "c" {
		t.Fatalf("expected timestamp order, got %+v", listed)
	}

	byCredential, err := store.GetByCredential(ctx, "k1")
	if err != nil {
		t.Fatalf("get by credential: %v", err)
	}
	if byCredential.ID != "c" {
		t.Fatalf("expected latest entry for k1, got %q", byCredential.ID)
	}

	if err := store.Delete(ctx, "c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "c"); !errors.Is(err, core.ErrLogEntryNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.GetByCredential(ctx, "k2"); !errors.Is(err, core.ErrLogEntryNotFound) {
		t.Fatalf("expected not found after clear, got %v", err)
	}
}

func TestMemoryStoreRejectsMissingID(t *testing.T) {
	if err := NewMemoryStore().Put(context.Background(), core.LogEntry{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("héllo wörld", 5); got != "héllo...[truncated 6 chars]" {
		t.Fatalf("unexpected rune truncation %q", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Fatalf("expected no limit for zero max, got %q", got)
	}
}
