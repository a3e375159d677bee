package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, opts: opts, logger: opts.Logger}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_snapshots (
		key TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		data TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_snapshots_saved ON session_snapshots(saved_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save upserts the snapshot for the session.
func (s *SQLiteStore) Save(ctx context.Context, session domain.Session) error {
	now := s.opts.Now()
	data, err := encode(session, now)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO session_snapshots (key, session_id, data, saved_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		data = excluded.data,
		saved_at = excluded.saved_at`

	return shared.RetryOnConflict(ctx, shared.DefaultRetry, s.logger, "save session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			s.opts.key(session.SessionID), session.SessionID, string(data), now.UnixMilli(),
		)
		return err
	})
}

// Load returns the snapshot for sessionID, or nil when there is none.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM session_snapshots WHERE key = ?`, s.opts.key(sessionID),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session, _, err := decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Clear removes the snapshot for sessionID.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetry, s.logger, "clear session", func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM session_snapshots WHERE key = ?`, s.opts.key(sessionID),
		)
		return err
	})
}

// List returns the stored session ids under the prefix.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM session_snapshots
		WHERE substr(key, 1, ?) = ?
		ORDER BY session_id`,
		len(s.opts.Prefix), s.opts.Prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return ids, nil
}

// CleanupExpired removes snapshots saved before now-ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.opts.Now().Add(-ttl).UnixMilli()

	var deleted int64
	err := shared.RetryOnConflict(ctx, shared.DefaultRetry, s.logger, "cleanup sessions", func() error {
		result, err := s.db.ExecContext(ctx, `
			DELETE FROM session_snapshots
			WHERE saved_at < ? AND substr(key, 1, ?) = ?`,
			threshold, len(s.opts.Prefix), s.opts.Prefix,
		)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
