package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-keyprobe/core"
)

const logEntryCacheKeyPrefix = "go-keyprobe::log_entry::v1"

// CachedLogStore adds a read-through cache in front of Get. Writes go to the
// base store first and then invalidate the cached key.
type CachedLogStore struct {
	base  core.LogStore
	cache repositorycache.CacheService

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewCachedLogStore(base core.LogStore, cacheService repositorycache.CacheService) (*CachedLogStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base log store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: log store cache service is required")
	}
	return &CachedLogStore{base: base, cache: cacheService, keys: map[string]struct{}{}}, nil
}

// LogEntryCacheKey returns go-keyprobe::log_entry::v1::<id> with the id
// URL-path escaped.
func LogEntryCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", core.ValidationError("id", "log entry id is required")
	}
	return logEntryCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (s *CachedLogStore) Put(ctx context.Context, entry core.LogEntry) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached log store is not configured")
	}
	if err := s.base.Put(ctx, entry); err != nil {
		return err
	}
	return s.invalidate(ctx, entry.ID)
}

func (s *CachedLogStore) List(ctx context.Context) ([]core.LogEntry, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached log store is not configured")
	}
	return s.base.List(ctx)
}

func (s *CachedLogStore) Get(ctx context.Context, id string) (core.LogEntry, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.LogEntry{}, fmt.Errorf("sqlstore: cached log store is not configured")
	}
	cacheKey, err := LogEntryCacheKey(id)
	if err != nil {
		return core.LogEntry{}, err
	}
	s.track(cacheKey)

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.LogEntry, error) {
		fetched, fetchErr := s.base.Get(ctx, strings.TrimSpace(id))
		if fetchErr != nil {
			return core.LogEntry{}, fetchErr
		}
		return fetched.Clone(), nil
	})
	if err != nil {
		return core.LogEntry{}, err
	}
	return entry.Clone(), nil
}

func (s *CachedLogStore) GetByCredential(ctx context.Context, credential string) (core.LogEntry, error) {
	if s == nil || s.base == nil {
		return core.LogEntry{}, fmt.Errorf("sqlstore: cached log store is not configured")
	}
	return s.base.GetByCredential(ctx, credential)
}

func (s *CachedLogStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached log store is not configured")
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedLogStore) Clear(ctx context.Context) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached log store is not configured")
	}
	if err := s.base.Clear(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	s.keys = map[string]struct{}{}
	s.mu.Unlock()

	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *CachedLogStore) invalidate(ctx context.Context, id string) error {
	cacheKey, err := LogEntryCacheKey(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.keys, cacheKey)
	s.mu.Unlock()
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedLogStore) track(cacheKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[cacheKey] = struct{}{}
}
