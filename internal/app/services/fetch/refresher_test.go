package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
	"github.com/SourcePulse/fetch_layer/internal/app/fetchstate"
	"github.com/SourcePulse/fetch_layer/internal/app/storage/memory"
)

func TestRefresherTriggersDueSources(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	store := memory.New()
	src := seedSource(t, store, source.Source{URL: server.URL, Interval: "@every 1m"})
	paused := seedSource(t, store, source.Source{Name: "paused", URL: server.URL, Interval: "@every 1m"})
	paused.Active = false
	if _, err := store.UpdateSource(context.Background(), paused); err != nil {
		t.Fatalf("pause source: %v", err)
	}

	svc := New(store, store, fetchstate.NewHTTPFetcher(server.Client(), "", nil), nil, 0, nil)
	refresher := NewRefresher(svc, store, nil)
	ctx := context.Background()

	// First pass only records the schedule for newly discovered sources.
	refresher.tick(ctx)
	if got := hits.Load(); got != 0 {
		t.Fatalf("expected no triggers on discovery pass, got %d", got)
	}

	refresher.mu.Lock()
	refresher.next[src.ID] = time.Now().Add(-time.Second)
	refresher.mu.Unlock()

	refresher.tick(ctx)
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one trigger, got %d", got)
	}

	// The due slot advanced, so an immediate second pass stays quiet.
	refresher.tick(ctx)
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected no further triggers, got %d", got)
	}
}

func TestRefresherDropsDeletedSources(t *testing.T) {
	store := memory.New()
	src := seedSource(t, store, source.Source{URL: "https://example.com"})

	svc := New(store, store, nil, nil, 0, nil)
	refresher := NewRefresher(svc, store, nil)
	ctx := context.Background()

	refresher.tick(ctx)
	refresher.mu.Lock()
	_, tracked := refresher.next[src.ID]
	refresher.mu.Unlock()
	if !tracked {
		t.Fatalf("expected schedule entry for source")
	}

	if err := store.DeleteSource(ctx, src.ID); err != nil {
		t.Fatalf("delete source: %v", err)
	}
	refresher.tick(ctx)

	refresher.mu.Lock()
	_, tracked = refresher.next[src.ID]
	refresher.mu.Unlock()
	if tracked {
		t.Fatalf("expected schedule entry to be dropped")
	}
}

func TestRefresherStartStop(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil, nil, 0, nil)
	refresher := NewRefresher(svc, store, nil)
	ctx := context.Background()

	if err := refresher.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := refresher.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := refresher.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := refresher.Stop(stopCtx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}
