package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Backends lists every backend name.
var Backends = []string{BackendSQLite, BackendMemory, BackendBadger, BackendRedis, BackendFile}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Prefix    string
	DBPath    string
	BadgerDir string
	FileDir   string
	Redis     RedisConfig
}

// Open creates the configured repository.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{Prefix: cfg.Prefix, Logger: logger}

	switch cfg.Backend {
	case BackendSQLite, "":
		return wrap(NewSQLite(cfg.DBPath, opts))
	case BackendMemory:
		return NewMemory(opts), nil
	case BackendBadger:
		return wrap(OpenBadger(cfg.BadgerDir, opts))
	case BackendRedis:
		return wrap(NewRedis(ctx, cfg.Redis, opts))
	case BackendFile:
		return wrap(NewFile(cfg.FileDir, opts))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// wrap keeps a failed constructor from yielding a non-nil interface
// around a nil pointer.
func wrap[T Repository](r T, err error) (Repository, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}
