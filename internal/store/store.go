// Package store persists session snapshots keyed by session id.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluia/leadmagnet/internal/domain"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "fluia-lm-session-"

// Repository defines the interface for persisting session snapshots.
type Repository interface {
	// Save writes the snapshot of s under its session id.
	Save(ctx context.Context, s domain.Session) error

	// Load returns the snapshot for sessionID, or nil when there is none.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Clear removes the snapshot for sessionID.
	Clear(ctx context.Context, sessionID string) error

	// List returns the ids of all stored sessions under the prefix, sorted.
	List(ctx context.Context) ([]string, error)

	// CleanupExpired removes snapshots saved longer than ttl ago.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Options are shared by every backend.
type Options struct {
	Prefix string
	Logger *slog.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) key(sessionID string) string {
	return o.Prefix + sessionID
}

// record is the stored form: the session plus the time it was saved, in
// Unix milliseconds.
type record struct {
	domain.Session
	Timestamp int64 `json:"timestamp"`
}

func encode(s domain.Session, now time.Time) ([]byte, error) {
	data, err := json.Marshal(record{Session: s, Timestamp: now.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	return data, nil
}

// decode returns the session and its save time. The save time never leaks
// into the session.
func decode(data []byte) (domain.Session, time.Time, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Session{}, time.Time{}, fmt.Errorf("decode session: %w", err)
	}
	if r.Context == nil {
		r.Context = domain.Context{}
	}
	if r.QuestionHistory == nil {
		r.QuestionHistory = []domain.Question{}
	}
	return r.Session, time.UnixMilli(r.Timestamp), nil
}
