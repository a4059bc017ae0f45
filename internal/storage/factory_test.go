package storage

import (
	"os"
	"testing"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestNewSinkKinds(t *testing.T) {
	parent := t.TempDir()

	sink, err := NewSink("dir", parent, nil)
	if err != nil {
		t.Fatalf("new dir sink: %v", err)
	}
	dirSink, ok := sink.(*DirSink)
	if !ok {
		t.Fatalf("expected *DirSink, got %T", sink)
	}
	if _, err := os.Stat(dirSink.Dir()); err != nil {
		t.Fatalf("expected scratch dir: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close dir sink: %v", err)
	}

	sink, err = NewSink("memory", "", nil)
	if err != nil {
		t.Fatalf("new memory sink: %v", err)
	}
	if _, ok := sink.(*MemorySink); !ok {
		t.Fatalf("expected *MemorySink, got %T", sink)
	}

	sink, err = NewSink("badger", parent, nil)
	if err != nil {
		t.Fatalf("new badger sink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close badger sink: %v", err)
	}

	if _, err := NewSink("badger", "", nil); err == nil {
		t.Fatal("expected badger directory error")
	}
	if _, err := NewSink("s3", parent, nil); err == nil {
		t.Fatal("expected unsupported sink error")
	}
}
