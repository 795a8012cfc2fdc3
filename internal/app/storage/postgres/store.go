// Package postgres implements the storage interfaces on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.SourceStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type sourceRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	URL       string         `db:"url"`
	Method    string         `db:"method"`
	Headers   []byte         `db:"headers"`
	JSONPath  sql.NullString `db:"json_path"`
	Interval  string         `db:"refresh_interval"`
	Active    bool           `db:"active"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r sourceRow) toDomain() source.Source {
	src := source.Source{
		ID:        r.ID,
		Name:      r.Name,
		URL:       r.URL,
		Method:    r.Method,
		JSONPath:  r.JSONPath.String,
		Interval:  r.Interval,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Headers) > 0 {
		_ = json.Unmarshal(r.Headers, &src.Headers)
	}
	return src
}

type snapshotRow struct {
	ID          string         `db:"id"`
	SourceID    string         `db:"source_id"`
	Payload     []byte         `db:"payload"`
	Error       sql.NullString `db:"error"`
	StatusCode  int            `db:"status_code"`
	DurationMS  int64          `db:"duration_ms"`
	CollectedAt time.Time      `db:"collected_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r snapshotRow) toDomain() source.Snapshot {
	return source.Snapshot{
		ID:          r.ID,
		SourceID:    r.SourceID,
		Payload:     json.RawMessage(r.Payload),
		Error:       r.Error.String,
		StatusCode:  r.StatusCode,
		DurationMS:  r.DurationMS,
		CollectedAt: r.CollectedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// --- SourceStore ------------------------------------------------------------

func (s *Store) CreateSource(ctx context.Context, src source.Source) (source.Source, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	headersJSON, err := json.Marshal(src.Headers)
	if err != nil {
		return source.Source{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fetch_sources (id, name, url, method, headers, json_path, refresh_interval, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, src.ID, src.Name, src.URL, src.Method, headersJSON, nullable(src.JSONPath), src.Interval, src.Active, src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return source.Source{}, err
	}
	return src, nil
}

func (s *Store) UpdateSource(ctx context.Context, src source.Source) (source.Source, error) {
	existing, err := s.GetSource(ctx, src.ID)
	if err != nil {
		return source.Source{}, err
	}

	src.CreatedAt = existing.CreatedAt
	src.UpdatedAt = time.Now().UTC()

	headersJSON, err := json.Marshal(src.Headers)
	if err != nil {
		return source.Source{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE fetch_sources
		SET name = $2, url = $3, method = $4, headers = $5, json_path = $6, refresh_interval = $7, active = $8, updated_at = $9
		WHERE id = $1
	`, src.ID, src.Name, src.URL, src.Method, headersJSON, nullable(src.JSONPath), src.Interval, src.Active, src.UpdatedAt)
	if err != nil {
		return source.Source{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return source.Source{}, storage.ErrNotFound
	}
	return src, nil
}

func (s *Store) GetSource(ctx context.Context, id string) (source.Source, error) {
	var row sourceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, url, method, headers, json_path, refresh_interval, active, created_at, updated_at
		FROM fetch_sources
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return source.Source{}, storage.ErrNotFound
	}
	if err != nil {
		return source.Source{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListSources(ctx context.Context) ([]source.Source, error) {
	var rows []sourceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, url, method, headers, json_path, refresh_interval, active, created_at, updated_at
		FROM fetch_sources
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}

	result := make([]source.Source, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM fetch_sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- SnapshotStore ----------------------------------------------------------

func (s *Store) CreateSnapshot(ctx context.Context, snap source.Snapshot) (source.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_snapshots (id, source_id, payload, error, status_code, duration_ms, collected_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snap.ID, snap.SourceID, []byte(snap.Payload), nullable(snap.Error), snap.StatusCode, snap.DurationMS, snap.CollectedAt, snap.CreatedAt)
	if err != nil {
		return source.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, sourceID string) ([]source.Snapshot, error) {
	var rows []snapshotRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, source_id, payload, error, status_code, duration_ms, collected_at, created_at
		FROM fetch_snapshots
		WHERE source_id = $1
		ORDER BY collected_at
	`, sourceID)
	if err != nil {
		return nil, err
	}

	result := make([]source.Snapshot, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, sourceID string) (source.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, source_id, payload, error, status_code, duration_ms, collected_at, created_at
		FROM fetch_snapshots
		WHERE source_id = $1
		ORDER BY collected_at DESC
		LIMIT 1
	`, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return source.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return source.Snapshot{}, err
	}
	return row.toDomain(), nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
