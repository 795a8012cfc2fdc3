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
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
	"github.com/SourcePulse/fetch_layer/internal/app/storage/memory"
)

func seedSource(t *testing.T, store *memory.Store, src source.Source) source.Source {
	t.Helper()
	if src.Name == "" {
		src.Name = "todos"
	}
	if src.Method == "" {
		src.Method = http.MethodGet
	}
	if src.Interval == "" {
		src.Interval = "@every 1m"
	}
	src.Active = true
	created, err := store.CreateSource(context.Background(), src)
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return created
}

func TestTriggerSuccessRecordsSnapshot(t *testing.T) {
	const payload = `[{"id":1,"title":"a","completed":false}]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	store := memory.New()
	src := seedSource(t, store, source.Source{URL: server.URL})
	svc := New(store, store, fetchstate.NewHTTPFetcher(server.Client(), "", nil), nil, 0, nil)

	st, err := svc.Trigger(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if st.Loading {
		t.Fatalf("expected terminal state")
	}
	if st.Err != "" {
		t.Fatalf("unexpected failure: %s", st.Err)
	}
	if st.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", st.StatusCode)
	}
	if string(st.Data) != payload {
		t.Fatalf("unexpected payload: %s", st.Data)
	}

	snaps, err := svc.Snapshots(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if string(snaps[0].Payload) != payload {
		t.Fatalf("snapshot payload mismatch: %s", snaps[0].Payload)
	}
	if snaps[0].Error != "" {
		t.Fatalf("unexpected snapshot error: %s", snaps[0].Error)
	}
}

func TestTriggerServerErrorKeepsData(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	store := memory.New()
	src := seedSource(t, store, source.Source{URL: server.URL})
	svc := New(store, store, fetchstate.NewHTTPFetcher(server.Client(), "", nil), nil, 0, nil)
	ctx := context.Background()

	if st, err := svc.Trigger(ctx, src.ID); err != nil || st.Err != "" {
		t.Fatalf("first trigger: err=%v state=%+v", err, st)
	}

	fail.Store(true)
	st, err := svc.Trigger(ctx, src.ID)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if st.Err == "" {
		t.Fatalf("expected failure state")
	}
	if st.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", st.StatusCode)
	}
	if string(st.Data) != `{"ok":true}` {
		t.Fatalf("expected prior payload retained, got %s", st.Data)
	}

	latest, err := svc.LatestSnapshot(ctx, src.ID)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if latest.Error == "" {
		t.Fatalf("expected failing snapshot")
	}
	if len(latest.Payload) != 0 {
		t.Fatalf("failing snapshot should not carry a payload, got %s", latest.Payload)
	}
}

func TestTriggerExtractsJSONPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"items":[{"title":"first"},{"title":"second"}]}`))
	}))
	defer server.Close()

	store := memory.New()
	src := seedSource(t, store, source.Source{URL: server.URL, JSONPath: "$.items[0].title"})
	svc := New(store, store, fetchstate.NewHTTPFetcher(server.Client(), "", nil), nil, 0, nil)

	st, err := svc.Trigger(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if st.Err != "" {
		t.Fatalf("unexpected failure: %s", st.Err)
	}
	if string(st.Data) != `"first"` {
		t.Fatalf("expected extracted fragment, got %s", st.Data)
	}
}

func TestTriggerUnknownSource(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil, nil, 0, nil)

	if _, err := svc.Trigger(context.Background(), "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCachedTriggerSkipsTransport(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	store := memory.New()
	src := seedSource(t, store, source.Source{URL: server.URL})
	svc := New(store, store, fetchstate.NewHTTPFetcher(server.Client(), "", nil), NewMemoryCache(), time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		st, err := svc.Trigger(ctx, src.ID)
		if err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
		if st.Err != "" {
			t.Fatalf("trigger %d failed: %s", i, st.Err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one upstream hit, got %d", got)
	}
}

func TestInvalidateRebuildsController(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"a":1,"b":2}`))
	}))
	defer server.Close()

	store := memory.New()
	src := seedSource(t, store, source.Source{URL: server.URL, JSONPath: "$.a"})
	svc := New(store, store, fetchstate.NewHTTPFetcher(server.Client(), "", nil), nil, 0, nil)
	ctx := context.Background()

	st, err := svc.Trigger(ctx, src.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if string(st.Data) != "1" {
		t.Fatalf("expected $.a extraction, got %s", st.Data)
	}

	src.JSONPath = "$.b"
	if _, err := store.UpdateSource(ctx, src); err != nil {
		t.Fatalf("update source: %v", err)
	}
	svc.Invalidate(src.ID)

	st, err = svc.Trigger(ctx, src.ID)
	if err != nil {
		t.Fatalf("trigger after invalidate: %v", err)
	}
	if string(st.Data) != "2" {
		t.Fatalf("expected $.b extraction, got %s", st.Data)
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if val, ok, _ := cache.Get(ctx, "k"); !ok || string(val) != "v" {
		t.Fatalf("expected fresh hit, got ok=%v val=%s", ok, val)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
}
