package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluia/leadmagnet/internal/domain"
)

// BadgerStore keeps snapshots in an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	opts   Options
	logger *slog.Logger
}

// OpenBadger opens a Badger database in dir. An empty dir keeps the
// database in memory.
func OpenBadger(dir string, opts Options) (*BadgerStore, error) {
	opts = opts.withDefaults()
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, opts: opts, logger: opts.Logger}, nil
}

// Save writes the snapshot.
func (b *BadgerStore) Save(_ context.Context, s domain.Session) error {
	data, err := encode(s, b.opts.Now())
	if err != nil {
		return err
	}
	key := []byte(b.opts.key(s.SessionID))
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Load returns the snapshot, or nil when absent.
func (b *BadgerStore) Load(_ context.Context, sessionID string) (*domain.Session, error) {
	var out domain.Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.opts.key(sessionID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s, _, err := decode(val)
			out = s
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return &out, nil
}

// Clear deletes the snapshot.
func (b *BadgerStore) Clear(_ context.Context, sessionID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(b.opts.key(sessionID)))
	})
}

// List walks the key prefix. Badger iterates in key order, so ids come out sorted.
func (b *BadgerStore) List(_ context.Context) ([]string, error) {
	ids := []string{}
	prefix := []byte(b.opts.Prefix)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), b.opts.Prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// CleanupExpired deletes snapshots saved before now-ttl.
func (b *BadgerStore) CleanupExpired(_ context.Context, ttl time.Duration) (int64, error) {
	threshold := b.opts.Now().Add(-ttl)
	prefix := []byte(b.opts.Prefix)

	var expired [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var stale bool
			if err := item.Value(func(val []byte) error {
				_, savedAt, err := decode(val)
				stale = err != nil || savedAt.Before(threshold)
				return nil
			}); err != nil {
				return err
			}
			if stale {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired sessions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete expired session: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush expired sessions: %w", err)
	}
	return int64(len(expired)), nil
}

// Ping reports whether the database is open.
func (b *BadgerStore) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
