// Package fetch runs fetch attempts for configured sources. Each source owns
// one state controller; the service builds requests, decodes payloads and
// records snapshots of every completed attempt.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
	"github.com/SourcePulse/fetch_layer/internal/app/fetchstate"
	"github.com/SourcePulse/fetch_layer/internal/app/metrics"
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// Service coordinates fetch attempts across all sources.
type Service struct {
	sources   storage.SourceStore
	snapshots storage.SnapshotStore
	fetcher   fetchstate.Fetcher
	log       *logger.Logger

	mu          sync.Mutex
	controllers map[string]*fetchstate.Controller[json.RawMessage]
}

// New constructs a fetch service. A nil cache disables response caching; a
// non-nil cache wraps the fetcher so repeated GET triggers inside the TTL
// window reuse the cached body.
func New(sources storage.SourceStore, snapshots storage.SnapshotStore, fetcher fetchstate.Fetcher, cache Cache, cacheTTL time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("fetch")
	}
	if cache != nil && cacheTTL > 0 {
		fetcher = &cachedFetcher{next: fetcher, cache: cache, ttl: cacheTTL}
	}
	return &Service{
		sources:     sources,
		snapshots:   snapshots,
		fetcher:     fetcher,
		log:         log,
		controllers: make(map[string]*fetchstate.Controller[json.RawMessage]),
	}
}

// Trigger runs one fetch attempt for the source and returns the committed
// state. Transport and decode failures are absorbed into the state's Err
// field; only lookup and persistence problems surface as errors.
func (s *Service) Trigger(ctx context.Context, sourceID string) (fetchstate.State[json.RawMessage], error) {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return fetchstate.State[json.RawMessage]{}, err
	}

	ctrl := s.controller(src)
	started := time.Now()
	st := ctrl.Trigger(ctx, fetchstate.Request{
		URL:     src.URL,
		Method:  src.Method,
		Headers: src.Headers,
	})
	elapsed := time.Since(started)
	metrics.RecordFetch(src.Name, elapsed, st.Err == "")

	if st.Attempt != 0 && !st.Loading {
		snap := source.Snapshot{
			SourceID:    src.ID,
			Error:       st.Err,
			StatusCode:  st.StatusCode,
			DurationMS:  elapsed.Milliseconds(),
			CollectedAt: st.UpdatedAt,
		}
		if st.Err == "" {
			snap.Payload = st.Data
		}
		if _, err := s.snapshots.CreateSnapshot(ctx, snap); err != nil {
			s.log.WithError(err).WithField("source_id", src.ID).Warn("record snapshot")
		}
	}

	if st.Err != "" {
		s.log.WithField("source_id", src.ID).
			WithField("status", st.StatusCode).
			WithField("error", st.Err).
			Warn("fetch attempt failed")
	} else {
		s.log.WithField("source_id", src.ID).
			WithField("status", st.StatusCode).
			WithField("duration_ms", elapsed.Milliseconds()).
			Debug("fetch attempt succeeded")
	}
	return st, nil
}

// State returns the current fetch state for the source.
func (s *Service) State(ctx context.Context, sourceID string) (fetchstate.State[json.RawMessage], error) {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return fetchstate.State[json.RawMessage]{}, err
	}
	return s.controller(src).State(), nil
}

// Subscribe registers an observer on the source's state transitions.
func (s *Service) Subscribe(ctx context.Context, sourceID string) (<-chan fetchstate.State[json.RawMessage], func(), error) {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.controller(src).Subscribe()
	return ch, cancel, nil
}

// Invalidate drops the source's controller so the next trigger rebuilds it
// from the current definition. Call after a source's URL or path changes.
func (s *Service) Invalidate(sourceID string) {
	s.mu.Lock()
	delete(s.controllers, sourceID)
	s.mu.Unlock()
}

// Snapshots lists recorded attempts for the source, newest first.
func (s *Service) Snapshots(ctx context.Context, sourceID string) ([]source.Snapshot, error) {
	if _, err := s.sources.GetSource(ctx, sourceID); err != nil {
		return nil, err
	}
	return s.snapshots.ListSnapshots(ctx, sourceID)
}

// LatestSnapshot returns the most recent recorded attempt for the source.
func (s *Service) LatestSnapshot(ctx context.Context, sourceID string) (source.Snapshot, error) {
	if _, err := s.sources.GetSource(ctx, sourceID); err != nil {
		return source.Snapshot{}, err
	}
	return s.snapshots.LatestSnapshot(ctx, sourceID)
}

func (s *Service) controller(src source.Source) *fetchstate.Controller[json.RawMessage] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctrl, ok := s.controllers[src.ID]; ok {
		return ctrl
	}
	ctrl := fetchstate.NewController[json.RawMessage](s.fetcher, decoder(src.JSONPath), s.log.WithField("source_id", src.ID))
	s.controllers[src.ID] = ctrl
	return ctrl
}

// decoder validates the body as JSON and, when a path is configured, extracts
// the matching fragment.
func decoder(path string) fetchstate.DecodeFunc[json.RawMessage] {
	return func(body []byte) (json.RawMessage, error) {
		var doc interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if path == "" {
			out := make(json.RawMessage, len(body))
			copy(out, body)
			return out, nil
		}
		extracted, err := jsonpath.Get(path, doc)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		out, err := json.Marshal(extracted)
		if err != nil {
			return nil, fmt.Errorf("encode extracted payload: %w", err)
		}
		return out, nil
	}
}

// cachedFetcher serves GET responses from the cache inside the TTL window.
type cachedFetcher struct {
	next  fetchstate.Fetcher
	cache Cache
	ttl   time.Duration
}

func (c *cachedFetcher) Fetch(ctx context.Context, req fetchstate.Request) (fetchstate.Response, error) {
	cacheable := req.Method == "" || req.Method == "GET"
	if cacheable {
		body, ok, err := c.cache.Get(ctx, req.URL)
		metrics.RecordCacheLookup(ok)
		if err == nil && ok {
			return fetchstate.Response{StatusCode: 200, Body: body}, nil
		}
	}

	resp, err := c.next.Fetch(ctx, req)
	if err == nil && cacheable {
		// Cache writes are best effort; the response is already in hand.
		_ = c.cache.Set(ctx, req.URL, resp.Body, c.ttl)
	}
	return resp, err
}
