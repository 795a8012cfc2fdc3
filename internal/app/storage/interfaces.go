package storage

import (
	"context"
	"errors"

	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SourceStore persists source definitions.
type SourceStore interface {
	CreateSource(ctx context.Context, src source.Source) (source.Source, error)
	UpdateSource(ctx context.Context, src source.Source) (source.Source, error)
	GetSource(ctx context.Context, id string) (source.Source, error)
	ListSources(ctx context.Context) ([]source.Source, error)
	DeleteSource(ctx context.Context, id string) error
}

// SnapshotStore persists recorded fetch outcomes.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, snap source.Snapshot) (source.Snapshot, error)
	ListSnapshots(ctx context.Context, sourceID string) ([]source.Snapshot, error)
	LatestSnapshot(ctx context.Context, sourceID string) (source.Snapshot, error)
}
