package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fluia/leadmagnet/internal/metrics"
)

// Manager keeps the live orchestrators keyed by session id.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu   sync.RWMutex
	live map[string]*Orchestrator
}

// NewManager creates a registry whose orchestrators share opts.
func NewManager(opts Options) (*Manager, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		live:   make(map[string]*Orchestrator),
	}, nil
}

// Options returns the shared orchestrator options.
func (m *Manager) Options() Options { return m.opts }

// Create initializes a new session and registers it.
func (m *Manager) Create(ctx context.Context) (*Orchestrator, error) {
	o, err := New(m.opts)
	if err != nil {
		return nil, err
	}
	s, err := o.Initialize(ctx)
	if err != nil {
		o.Close()
		return nil, err
	}
	m.register(s.SessionID, o)
	return o, nil
}

// Get returns the live orchestrator for id, restoring it from the store
// when it is not in memory.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Orchestrator, error) {
	m.mu.RLock()
	o, ok := m.live[sessionID]
	m.mu.RUnlock()
	if ok {
		return o, nil
	}

	restored, err := New(m.opts)
	if err != nil {
		return nil, err
	}
	if _, err := restored.Restore(ctx, sessionID); err != nil {
		restored.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[sessionID]; ok {
		restored.Close()
		return existing, nil
	}
	m.live[sessionID] = restored
	metrics.SetActiveSessions(len(m.live))
	return restored, nil
}

// Reset restarts the session and re-keys it under its new id.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*Orchestrator, error) {
	o, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s, err := o.Reset(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.live[sessionID]; ok && current == o {
		delete(m.live, sessionID)
	}
	m.live[s.SessionID] = o
	metrics.SetActiveSessions(len(m.live))
	return o, nil
}

// Evict closes and forgets the orchestrator for id. The persisted snapshot
// is kept so the session can be restored later.
func (m *Manager) Evict(sessionID string) bool {
	m.mu.Lock()
	o, ok := m.live[sessionID]
	if ok {
		delete(m.live, sessionID)
	}
	n := len(m.live)
	m.mu.Unlock()

	if !ok {
		return false
	}
	o.Close()
	metrics.SetActiveSessions(n)
	return true
}

// EvictIdle evicts orchestrators idle for longer than idle. Sessions waiting
// on the remote service are kept.
func (m *Manager) EvictIdle(idle time.Duration) int {
	cutoff := m.opts.Now().Add(-idle)

	m.mu.RLock()
	var stale []string
	for id, o := range m.live {
		if o.LastActive().Before(cutoff) && !o.Snapshot().IsLoading {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	evicted := 0
	for _, id := range stale {
		if m.Evict(id) {
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("Evicted idle sessions", "count", evicted, "idle", idle)
	}
	return evicted
}

// List returns the ids of live sessions in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Close closes every live orchestrator.
func (m *Manager) Close() {
	m.mu.Lock()
	live := m.live
	m.live = make(map[string]*Orchestrator)
	m.mu.Unlock()

	for _, o := range live {
		o.Close()
	}
	metrics.SetActiveSessions(0)
}

func (m *Manager) register(sessionID string, o *Orchestrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[sessionID]; ok && existing != o {
		existing.Close()
	}
	m.live[sessionID] = o
	metrics.SetActiveSessions(len(m.live))
}
