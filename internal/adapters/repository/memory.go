package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/feedtrace/internal/domain/normalize"
	"github.com/okian/feedtrace/internal/domain/types"
	"github.com/okian/feedtrace/pkg/metrics"
)

type feedKey struct {
	project string
	feed    string
}

// MemoryStore is a RowStore kept in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[feedKey][]StoredRow
	index map[feedKey]map[string]int
	names map[feedKey]map[string]string
	total int
	cfg   settings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		rows:  make(map[feedKey][]StoredRow),
		index: make(map[feedKey]map[string]int),
		names: make(map[feedKey]map[string]string),
		cfg:   newSettings(opts),
	}
}

func (m *MemoryStore) Put(_ context.Context, r StoredRow) (bool, error) { //nolint:gocritic // hugeParam
	if !validKey(r.ProjectID, r.FeedID, r.SessionID) {
		return false, ErrInvalidKey
	}
	start := time.Now()
	defer func() { metrics.RecordStoreWrite(DriverMemory, sinceMs(start)) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(r), nil
}

func (m *MemoryStore) putLocked(r StoredRow) bool { //nolint:gocritic // hugeParam
	k := feedKey{r.ProjectID, r.FeedID}
	idx, ok := m.index[k]
	if !ok {
		idx = make(map[string]int)
		m.index[k] = idx
	}
	if _, dup := idx[r.SessionID]; dup {
		return false
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.cfg.now()
	}
	idx[r.SessionID] = len(m.rows[k])
	m.rows[k] = append(m.rows[k], r)
	m.total++
	metrics.UpdateStoreRows(m.total)
	return true
}

func (m *MemoryStore) Get(_ context.Context, projectID, feedID, sessionID string) (StoredRow, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery(DriverMemory, sinceMs(start)) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	k := feedKey{projectID, feedID}
	i, ok := m.index[k][sessionID]
	if !ok {
		return StoredRow{}, ErrNotFound
	}
	return m.rows[k][i], nil
}

func (m *MemoryStore) List(_ context.Context, projectID, feedID string) ([]StoredRow, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQuery(DriverMemory, sinceMs(start)) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.rows[feedKey{projectID, feedID}]
	out := make([]StoredRow, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryStore) Import(_ context.Context, projectID, feedID string, rows []types.FlatRow) (int, error) {
	if projectID == "" || feedID == "" {
		return 0, ErrInvalidKey
	}
	start := time.Now()
	defer func() { metrics.RecordStoreWrite(DriverMemory, sinceMs(start)) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range rows {
		if m.putLocked(importedRow(projectID, feedID, row, m.cfg.now())) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SetPostName(_ context.Context, projectID, feedID, postID, name string) error {
	if !validKey(projectID, feedID, postID) {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := feedKey{projectID, feedID}
	if m.names[k] == nil {
		m.names[k] = make(map[string]string)
	}
	m.names[k][postID] = name
	return nil
}

func (m *MemoryStore) Names(_ context.Context, projectID, feedID string) (normalize.MapNames, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(normalize.MapNames)
	for postID, name := range m.names[feedKey{projectID, feedID}] {
		out[normalize.NameKey(projectID, feedID, postID)] = name
	}
	return out, nil
}

func (m *MemoryStore) Count(context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func (m *MemoryStore) Close() error { return nil }

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
