package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"metaflux/internal/model"
)

var ErrSinkClosed = errors.New("result sink is closed")

// ResultSink collects accepted evaluations during a run. Append must be
// safe for concurrent use; Drain returns everything appended so far and
// empties the sink.
type ResultSink interface {
	Append(ctx context.Context, artifact model.Artifact) error
	Drain(ctx context.Context) ([]model.Artifact, error)
	Close() error
}

type MemorySink struct {
	mu        sync.Mutex
	closed    bool
	artifacts []model.Artifact
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, artifact model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.artifacts = append(s.artifacts, cloneArtifact(artifact))
	return nil
}

func (s *MemorySink) Drain(_ context.Context) ([]model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.artifacts
	s.artifacts = nil
	if out == nil {
		out = []model.Artifact{}
	}
	return out, nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.artifacts = nil
	return nil
}

const scratchPattern = "metaflux-scratch-"

// DirSink writes one JSON file per artifact into a private scratch
// directory. Leftover files survive a crash and can be inspected with
// ScanObjectives.
type DirSink struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// NewDirSink creates a fresh scratch directory under parent, or under the
// system temp dir when parent is empty.
func NewDirSink(parent string) (*DirSink, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(parent, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Dir() string {
	return s.dir
}

func (s *DirSink) Append(ctx context.Context, artifact model.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}
	return writeFileAtomic(s.dir, artifactFileName(artifact.Record.Objective), data)
}

// writeFileAtomic writes under a temporary name and renames into place, so
// readers only ever see complete artifacts.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Drain reads every artifact and then removes the scratch directory. The
// sink is closed afterwards. On error the directory is left untouched.
func (s *DirSink) Drain(ctx context.Context) ([]model.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	names, err := artifactFiles(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]model.Artifact, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		var artifact model.Artifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", name, err)
		}
		out = append(out, artifact)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return nil, err
	}
	s.closed = true
	return out, nil
}

// Close stops accepting artifacts. Undrained artifacts stay on disk for
// ScanObjectives; an empty scratch directory is removed.
func (s *DirSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	names, err := artifactFiles(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(names) > 0 {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// Pending reports how many artifacts are waiting in the scratch directory.
func (s *DirSink) Pending() (int, error) {
	names, err := artifactFiles(s.dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// artifactFileName embeds the objective, a nanosecond clock and a random
// nonce so concurrent writers never collide.
func artifactFileName(objective float64) string {
	return fmt.Sprintf("%s_%d_%s.json", strconv.FormatFloat(objective, 'g', -1, 64), time.Now().UnixNano(), uuid.NewString())
}

func artifactFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ScannedArtifact is the objective summary of one scratch file. Error is
// set, and the numbers are zero, when the file could not be read.
type ScannedArtifact struct {
	File      string  `json:"file"`
	Fitness   float64 `json:"fitness"`
	Objective float64 `json:"objective"`
	AllOK     bool    `json:"all_ok"`
	Error     string  `json:"error,omitempty"`
}

// ScanObjectives reads only the objective fields of every artifact left in
// a scratch directory, without decoding full results. Unreadable files are
// reported in place and do not stop the scan.
func ScanObjectives(dir string) ([]ScannedArtifact, error) {
	names, err := artifactFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]ScannedArtifact, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			out = append(out, ScannedArtifact{File: name, Error: err.Error()})
			continue
		}
		if !gjson.ValidBytes(data) {
			out = append(out, ScannedArtifact{File: name, Error: "invalid json"})
			continue
		}
		fields := gjson.GetManyBytes(data, "record.objective", "result.values."+model.ObjectiveVar, "result.all_ok")
		out = append(out, ScannedArtifact{
			File:      name,
			Fitness:   fields[0].Float(),
			Objective: fields[1].Float(),
			AllOK:     fields[2].Bool(),
		})
	}
	return out, nil
}

// Aggregate groups full results by achieved objective value, sorted by
// value descending. Sentinel records are skipped.
func Aggregate(artifacts []model.Artifact) []model.ObjectiveGroup {
	index := map[float64]int{}
	groups := make([]model.ObjectiveGroup, 0)
	for _, artifact := range artifacts {
		if artifact.Record.IsSentinel() {
			continue
		}
		value := artifact.Result.Objective()
		i, ok := index[value]
		if !ok {
			i = len(groups)
			index[value] = i
			groups = append(groups, model.ObjectiveGroup{Value: value})
		}
		groups[i].Results = append(groups[i].Results, artifact.Result.Clone())
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Value > groups[j].Value
	})
	return groups
}

func cloneArtifact(a model.Artifact) model.Artifact {
	return model.Artifact{
		Record: model.FitnessRecord{Objective: a.Record.Objective, Vector: a.Record.Vector.Clone()},
		Result: a.Result.Clone(),
	}
}
