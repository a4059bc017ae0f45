package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"metaflux/internal/model"
)

const artifactKeyPrefix = "artifact/"

type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerSink keeps artifacts in an embedded key-value store so very long
// runs survive restarts without thousands of scratch files.
type BadgerSink struct {
	db *badger.DB

	mu     sync.Mutex
	closed bool
}

func NewBadgerSink(cfg BadgerConfig) (*BadgerSink, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

func (s *BadgerSink) Append(ctx context.Context, artifact model.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrSinkClosed
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%s%020d/%s", artifactKeyPrefix, time.Now().UnixNano(), uuid.NewString()))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Drain returns artifacts in append order and deletes them from the store.
func (s *BadgerSink) Drain(ctx context.Context) ([]model.Artifact, error) {
	if s.isClosed() {
		return nil, ErrSinkClosed
	}
	prefix := []byte(artifactKeyPrefix)
	out := make([]model.Artifact, 0)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			keys = append(keys, item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				var artifact model.Artifact
				if err := json.Unmarshal(val, &artifact); err != nil {
					return fmt.Errorf("decode artifact %s: %w", item.Key(), err)
				}
				out = append(out, artifact)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return nil, fmt.Errorf("delete drained artifact: %w", err)
		}
	}
	if err := batch.Flush(); err != nil {
		return nil, fmt.Errorf("delete drained artifacts: %w", err)
	}
	return out, nil
}

func (s *BadgerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// badgerLogger routes badger's internal log lines to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
