package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// NewSink builds a result sink; dir is the scratch parent for "dir" and the
// database directory for "badger".
func NewSink(kind, dir string, logger *slog.Logger) (ResultSink, error) {
	switch kind {
	case "", "dir":
		return NewDirSink(dir)
	case "badger":
		if dir == "" {
			return nil, fmt.Errorf("badger sink requires a directory")
		}
		return NewBadgerSink(BadgerConfig{Path: filepath.Join(dir, "artifacts.badger"), Logger: logger})
	case "memory":
		return NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("unsupported result sink: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
