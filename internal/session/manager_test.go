package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluia/leadmagnet/internal/script"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *memStore, *fakeClock) {
	t.Helper()
	s, err := script.Parse([]byte(scriptedDoc))
	require.NoError(t, err)

	store := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, err := NewManager(Options{
		Script: s,
		Remote: &fakeRemote{handle: echoScript(s)},
		Store:  store,
		Now:    clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, store, clock
}

func TestManagerCreateAndGet(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	o, err := m.Create(ctx)
	require.NoError(t, err)
	id := o.Snapshot().SessionID

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, o, got)
	assert.Equal(t, []string{id}, m.List())
}

func TestManagerGetRestoresEvictedSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	o, err := m.Create(ctx)
	require.NoError(t, err)
	_, err = o.Start(ctx)
	require.NoError(t, err)
	_, err = o.SubmitAnswer(ctx, "Acme")
	require.NoError(t, err)
	id := o.Snapshot().SessionID

	assert.True(t, m.Evict(id))
	assert.False(t, m.Evict(id))
	assert.Zero(t, m.Len())

	restored, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, o, restored)
	s := restored.Snapshot()
	assert.Equal(t, 2, s.Step)
	assert.Equal(t, "Acme", s.Context["empresa_actividad"].Str())
}

func TestManagerGetUnknown(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Get(context.Background(), "nope")
	assert.True(t, errdefs.IsNotFound(err))
	assert.Zero(t, m.Len())
}

func TestManagerResetRekeys(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	o, err := m.Create(ctx)
	require.NoError(t, err)
	old := o.Snapshot().SessionID

	reset, err := m.Reset(ctx, old)
	require.NoError(t, err)
	assert.Same(t, o, reset)

	id := reset.Snapshot().SessionID
	assert.NotEqual(t, old, id)
	assert.Equal(t, []string{id}, m.List())

	_, ok := store.get(old)
	assert.False(t, ok)
}

func TestManagerEvictIdle(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	idle, err := m.Create(ctx)
	require.NoError(t, err)
	idleID := idle.Snapshot().SessionID

	clock.Advance(time.Hour)
	active, err := m.Create(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, m.EvictIdle(30*time.Minute))
	assert.Equal(t, []string{active.Snapshot().SessionID}, m.List())

	_, err = idle.Start(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	restored, err := m.Get(ctx, idleID)
	require.NoError(t, err)
	assert.Equal(t, idleID, restored.Snapshot().SessionID)
}
