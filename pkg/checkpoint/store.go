// Package checkpoint tracks the latest processed timestamp per entity and metric
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownBackend is returned for an unsupported store backend
	ErrUnknownBackend = errors.New("unknown checkpoint backend")
	// ErrDSNRequired is returned when the postgres backend has no DSN
	ErrDSNRequired = errors.New("postgres dsn is required")
)

// Entry is one checkpoint row. The execution sentinel has an empty entity id and key.
type Entry struct {
	EntityTypeID int
	EntityID     string
	Key          string
	Timestamp    time.Time
}

// IsSentinel reports whether e marks a pipeline execution
func (e Entry) IsSentinel() bool {
	return e.EntityID == "" && e.Key == ""
}

// Store persists checkpoint rows
type Store interface {
	// Entries returns the checkpoints of an entity type, sentinel excluded
	Entries(ctx context.Context, entityTypeID int) ([]Entry, error)
	// Upsert inserts or replaces rows keyed by entity type, entity and key
	Upsert(ctx context.Context, entries []Entry) error
	// Delete removes rows. Empty keys or entities match everything.
	Delete(ctx context.Context, entityTypeID int, keys, entities []string) error
	// LastExecution returns the sentinel timestamp, nil when absent
	LastExecution(ctx context.Context, entityTypeID int) (*time.Time, error)
	// Name identifies the backend
	Name() string
}

type entryKey struct {
	entityTypeID int
	entityID     string
	key          string
}

// MemoryStore keeps checkpoints in process
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[entryKey]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[entryKey]time.Time)}
}

// Name returns "memory"
func (m *MemoryStore) Name() string { return "memory" }

// Entries returns the rows of an entity type sorted by entity and key
func (m *MemoryStore) Entries(_ context.Context, entityTypeID int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry

	for k, ts := range m.entries {
		if k.entityTypeID != entityTypeID || k.entityID == "" {
			continue
		}

		out = append(out, Entry{EntityTypeID: k.entityTypeID, EntityID: k.entityID, Key: k.key, Timestamp: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}

		return out[i].Key < out[j].Key
	})

	return out, nil
}

// Upsert stores rows, replacing existing ones
func (m *MemoryStore) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.entries[entryKey{e.EntityTypeID, e.EntityID, e.Key}] = e.Timestamp
	}

	return nil
}

// Delete removes matching rows
func (m *MemoryStore) Delete(_ context.Context, entityTypeID int, keys, entities []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.entries {
		if k.entityTypeID != entityTypeID {
			continue
		}

		if len(keys) > 0 && !contains(keys, k.key) {
			continue
		}

		if len(entities) > 0 && !contains(entities, k.entityID) {
			continue
		}

		delete(m.entries, k)
	}

	return nil
}

// LastExecution returns the sentinel timestamp
func (m *MemoryStore) LastExecution(_ context.Context, entityTypeID int) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts, ok := m.entries[entryKey{entityTypeID: entityTypeID}]
	if !ok {
		return nil, nil
	}

	return &ts, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}

	return false
}
