package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-keyprobe/core"
)

type stubLogStore struct {
	mu       sync.Mutex
	entries  map[string]core.LogEntry
	getCalls int
	putErr   error
}

func newStubLogStore() *stubLogStore {
	return &stubLogStore{entries: map[string]core.LogEntry{}}
}

func (s *stubLogStore) Put(_ context.Context, entry core.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.entries[entry.ID] = entry.Clone()
	return nil
}

func (s *stubLogStore) List(context.Context) ([]core.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.LogEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.Clone())
	}
	return out, nil
}

func (s *stubLogStore) Get(_ context.Context, id string) (core.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	entry, ok := s.entries[id]
	if !ok {
		return core.LogEntry{}, core.ErrLogEntryNotFound
	}
	return entry.Clone(), nil
}

func (s *stubLogStore) GetByCredential(_ context.Context, credential string) (core.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.Credential == credential {
			return entry.Clone(), nil
		}
	}
	return core.LogEntry{}, core.ErrLogEntryNotFound
}

func (s *stubLogStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *stubLogStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]core.LogEntry{}
	return nil
}

func (s *stubLogStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func TestCachedLogStore_Get_MissFetchThenHit(t *testing.T) {
	base := newStubLogStore()
	_ = base.Put(context.Background(), core.LogEntry{ID: "entry-1", Credential: "k1", FinalStatus: core.StatusValid})

	store, err := NewCachedLogStore(base, newTestLogCacheService(t))
	if err != nil {
		t.Fatalf("new cached log store: %v", err)
	}

	if _, err := store.Get(context.Background(), "entry-1"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if base.calls() != 1 {
		t.Fatalf("expected first get to fetch base store once, got %d", base.calls())
	}
	entry, err := store.Get(context.Background(), "entry-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.calls() != 1 {
		t.Fatalf("expected second get to be cache hit, base get calls=%d", base.calls())
	}
	if entry.FinalStatus != core.StatusValid {
		t.Fatalf("unexpected cached entry %+v", entry)
	}
}

func TestCachedLogStore_Put_InvalidatesCachedKey(t *testing.T) {
	base := newStubLogStore()
	ctx := context.Background()
	_ = base.Put(ctx, core.LogEntry{ID: "entry-2", CurrentStatus: core.StatusTesting})

	store, err := NewCachedLogStore(base, newTestLogCacheService(t))
	if err != nil {
		t.Fatalf("new cached log store: %v", err)
	}
	if _, err := store.Get(ctx, "entry-2"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := store.Put(ctx, core.LogEntry{ID: "entry-2", CurrentStatus: core.StatusInvalid}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, err := store.Get(ctx, "entry-2")
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if entry.CurrentStatus != core.StatusInvalid {
		t.Fatalf("expected refreshed entry after put, got %q", entry.CurrentStatus)
	}
	if base.calls() != 2 {
		t.Fatalf("expected refetch after invalidation, got %d base calls", base.calls())
	}
}

func TestCachedLogStore_ClearDropsTrackedKeys(t *testing.T) {
	base := newStubLogStore()
	ctx := context.Background()
	_ = base.Put(ctx, core.LogEntry{ID: "entry-3"})

	store, err := NewCachedLogStore(base, newTestLogCacheService(t))
	if err != nil {
		t.Fatalf("new cached log store: %v", err)
	}
	if _, err := store.Get(ctx, "entry-3"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Get(ctx, "entry-3"); !errors.Is(err, core.ErrLogEntryNotFound) {
		t.Fatalf("expected not found after clear, got %v", err)
	}
}

func TestCachedLogStore_PutErrorKeepsCache(t *testing.T) {
	base := newStubLogStore()
	ctx := context.Background()
	_ = base.Put(ctx, core.LogEntry{ID: "entry-4", CurrentStatus: core.StatusTesting})
	store, _ := NewCachedLogStore(base, newTestLogCacheService(t))
	if _, err := store.Get(ctx, "entry-4"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	base.putErr = errors.New("write failed")
	if err := store.Put(ctx, core.LogEntry{ID: "entry-4", CurrentStatus: core.StatusValid}); err == nil {
		t.Fatalf("expected put error")
	}
	entry, _ := store.Get(ctx, "entry-4")
	if entry.CurrentStatus != core.StatusTesting {
		t.Fatalf("expected cached value to survive failed put, got %q", entry.CurrentStatus)
	}
}

func TestLogEntryCacheKey(t *testing.T) {
	key, err := LogEntryCacheKey("entry/5")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-keyprobe::log_entry::v1::entry%2F5" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := LogEntryCacheKey(" "); err == nil {
		t.Fatalf("expected error for blank id")
	}
	if _, err := NewCachedLogStore(nil, newTestLogCacheService(t)); err == nil {
		t.Fatalf("expected error for missing base store")
	}
}

func newTestLogCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
