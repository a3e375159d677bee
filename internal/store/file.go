package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/renameio/v2"

	"github.com/fluia/leadmagnet/internal/domain"
)

const fileExt = ".json"

// Session ids become file names; anything else is refused.
var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

var errInvalidID = fmt.Errorf("invalid session id: %w", errdefs.ErrInvalidArgument)

// FileStore writes one JSON file per snapshot. Writes are atomic and
// durable: the file is fsynced and renamed into place.
type FileStore struct {
	dir    string
	opts   Options
	logger *slog.Logger
}

// NewFile creates the directory if needed.
func NewFile(dir string, opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{dir: dir, opts: opts, logger: opts.Logger}, nil
}

func (f *FileStore) path(sessionID string) (string, error) {
	if !fileIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("%w: %q", errInvalidID, sessionID)
	}
	return filepath.Join(f.dir, f.opts.key(sessionID)+fileExt), nil
}

// Save writes the snapshot atomically.
func (f *FileStore) Save(_ context.Context, s domain.Session) error {
	path, err := f.path(s.SessionID)
	if err != nil {
		return err
	}
	data, err := encode(s, f.opts.Now())
	if err != nil {
		return err
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending session file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			f.logger.Debug("cleanup pending session file", "error", err)
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit session file: %w", err)
	}
	return nil
}

// Load returns the snapshot, or nil when absent.
func (f *FileStore) Load(_ context.Context, sessionID string) (*domain.Session, error) {
	path, err := f.path(sessionID)
	if err != nil {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	s, _, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Clear removes the snapshot file.
func (f *FileStore) Clear(_ context.Context, sessionID string) error {
	path, err := f.path(sessionID)
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns the ids of snapshot files under the prefix.
func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read session directory: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		if id, ok := f.idOf(e); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *FileStore) idOf(e fs.DirEntry) (string, bool) {
	if e.IsDir() {
		return "", false
	}
	name, ok := strings.CutSuffix(e.Name(), fileExt)
	if !ok {
		return "", false
	}
	return strings.CutPrefix(name, f.opts.Prefix)
}

// CleanupExpired removes files whose save timestamp is older than ttl.
func (f *FileStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := f.opts.Now().Add(-ttl)
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, fmt.Errorf("read session directory: %w", err)
	}

	var deleted int64
	for _, e := range entries {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if _, ok := f.idOf(e); !ok {
			continue
		}
		path := filepath.Join(f.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			f.logger.Warn("skipping unreadable session file", "path", path, "error", err)
			continue
		}
		if _, savedAt, err := decode(data); err == nil && !savedAt.Before(threshold) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return deleted, fmt.Errorf("remove session file: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// Ping checks the directory is still there.
func (f *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(f.dir); err != nil {
		return fmt.Errorf("session directory: %w", err)
	}
	return nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }
