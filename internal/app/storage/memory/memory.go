package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	sources   map[string]source.Source
	snapshots map[string][]source.Snapshot
}

var _ storage.SourceStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:    1,
		sources:   make(map[string]source.Source),
		snapshots: make(map[string][]source.Snapshot),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// SourceStore implementation ------------------------------------------------

func (s *Store) CreateSource(_ context.Context, src source.Source) (source.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src.ID == "" {
		src.ID = s.nextIDLocked()
	} else if _, exists := s.sources[src.ID]; exists {
		return source.Source{}, fmt.Errorf("source %s already exists", src.ID)
	}

	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	src.Headers = cloneMap(src.Headers)

	s.sources[src.ID] = src
	return cloneSource(src), nil
}

func (s *Store) UpdateSource(_ context.Context, src source.Source) (source.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sources[src.ID]
	if !ok {
		return source.Source{}, storage.ErrNotFound
	}

	src.CreatedAt = original.CreatedAt
	src.UpdatedAt = time.Now().UTC()
	src.Headers = cloneMap(src.Headers)

	s.sources[src.ID] = src
	return cloneSource(src), nil
}

func (s *Store) GetSource(_ context.Context, id string) (source.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return source.Source{}, storage.ErrNotFound
	}
	return cloneSource(src), nil
}

func (s *Store) ListSources(_ context.Context) ([]source.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]source.Source, 0, len(s.sources))
	for _, src := range s.sources {
		result = append(result, cloneSource(src))
	}
	return result, nil
}

func (s *Store) DeleteSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sources, id)
	delete(s.snapshots, id)
	return nil
}

// SnapshotStore implementation ----------------------------------------------

func (s *Store) CreateSnapshot(_ context.Context, snap source.Snapshot) (source.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[snap.SourceID]; !ok {
		return source.Snapshot{}, storage.ErrNotFound
	}

	if snap.ID == "" {
		snap.ID = s.nextIDLocked()
	}
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}
	snap.Payload = cloneRaw(snap.Payload)

	s.snapshots[snap.SourceID] = append(s.snapshots[snap.SourceID], snap)
	return cloneSnapshot(snap), nil
}

func (s *Store) ListSnapshots(_ context.Context, sourceID string) ([]source.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[sourceID]
	result := make([]source.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		result = append(result, cloneSnapshot(snap))
	}
	return result, nil
}

func (s *Store) LatestSnapshot(_ context.Context, sourceID string) (source.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[sourceID]
	if len(snaps) == 0 {
		return source.Snapshot{}, storage.ErrNotFound
	}
	return cloneSnapshot(snaps[len(snaps)-1]), nil
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	return append(json.RawMessage(nil), in...)
}

func cloneSource(src source.Source) source.Source {
	src.Headers = cloneMap(src.Headers)
	return src
}

func cloneSnapshot(snap source.Snapshot) source.Snapshot {
	snap.Payload = cloneRaw(snap.Payload)
	return snap
}
