package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fluia/leadmagnet/internal/domain"
)

// MemoryStore keeps encoded snapshots in a map. Nothing survives a restart.
type MemoryStore struct {
	opts Options

	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory repository.
func NewMemory(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		records: make(map[string][]byte),
	}
}

// Save stores the snapshot.
func (m *MemoryStore) Save(_ context.Context, s domain.Session) error {
	data, err := encode(s, m.opts.Now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.opts.key(s.SessionID)] = data
	return nil
}

// Load returns the snapshot, or nil when absent.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	data, ok := m.records[m.opts.key(sessionID)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	s, _, err := decode(data)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Clear removes the snapshot.
func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, m.opts.key(sessionID))
	return nil
}

// List returns the stored ids.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for key := range m.records {
		if id, ok := strings.CutPrefix(key, m.opts.Prefix); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// CleanupExpired drops snapshots saved before now-ttl.
func (m *MemoryStore) CleanupExpired(_ context.Context, ttl time.Duration) (int64, error) {
	threshold := m.opts.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, data := range m.records {
		_, savedAt, err := decode(data)
		if err != nil || savedAt.Before(threshold) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
