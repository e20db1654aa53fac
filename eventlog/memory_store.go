package eventlog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-keyprobe/core"
)

// MemoryStore is a process-local core.LogStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]core.LogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]core.LogEntry{}}
}

func (s *MemoryStore) Put(_ context.Context, entry core.LogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return core.ValidationError("id", "log entry id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry.Clone()
	return nil
}

func (s *MemoryStore) List(context.Context) ([]core.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.LogEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.Clone())
	}
	SortEntries(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (core.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[strings.TrimSpace(id)]
	if !ok {
		return core.LogEntry{}, core.ErrLogEntryNotFound
	}
	return entry.Clone(), nil
}

// GetByCredential returns the most recently updated entry for credential.
func (s *MemoryStore) GetByCredential(_ context.Context, credential string) (core.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found core.LogEntry
		ok    bool
	)
	for _, entry := range s.entries {
		if entry.Credential != credential {
			continue
		}
		if !ok || entry.UpdatedAt.After(found.UpdatedAt) {
			found = entry
			ok = true
		}
	}
	if !ok {
		return core.LogEntry{}, core.ErrLogEntryNotFound
	}
	return found.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, strings.TrimSpace(id))
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]core.LogEntry{}
	return nil
}

// SortEntries orders entries by creation time, oldest first, using the id as
// a tie breaker.
func SortEntries(entries []core.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

var _ core.LogStore = (*MemoryStore)(nil)
