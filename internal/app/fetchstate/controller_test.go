package fetchstate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type todo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func newTodoController(t *testing.T) *Controller[[]todo] {
	t.Helper()
	fetcher := NewHTTPFetcher(&http.Client{}, "", nil)
	return NewController[[]todo](fetcher, nil, nil)
}

func TestControllerSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"title":"a","completed":false}]`))
	}))
	defer server.Close()

	ctrl := newTodoController(t)
	st := ctrl.Trigger(context.Background(), Request{URL: server.URL + "/list"})

	if st.Loading || st.Err != "" {
		t.Fatalf("expected success, got loading=%v err=%q", st.Loading, st.Err)
	}
	want := []todo{{ID: 1, Title: "a", Completed: false}}
	if !reflect.DeepEqual(st.Data, want) {
		t.Fatalf("unexpected payload: %#v", st.Data)
	}
	if st.Phase() != PhaseSuccess {
		t.Fatalf("expected success phase, got %s", st.Phase())
	}
	if got := ctrl.State(); !reflect.DeepEqual(got, st) {
		t.Fatalf("State() disagrees with committed state: %#v vs %#v", got, st)
	}
}

func TestControllerServerErrorKeepsPayload(t *testing.T) {
	fail := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id":1,"title":"a","completed":false}]`))
	}))
	defer server.Close()

	ctrl := newTodoController(t)
	first := ctrl.Trigger(context.Background(), Request{URL: server.URL + "/list"})
	if first.Err != "" {
		t.Fatalf("seed fetch failed: %s", first.Err)
	}

	fail = true
	st := ctrl.Trigger(context.Background(), Request{URL: server.URL + "/list"})
	if st.Loading || st.Err == "" {
		t.Fatalf("expected failure, got loading=%v err=%q", st.Loading, st.Err)
	}
	if st.Phase() != PhaseFailure {
		t.Fatalf("expected failure phase, got %s", st.Phase())
	}
	if !reflect.DeepEqual(st.Data, first.Data) {
		t.Fatalf("failure must retain prior payload: %#v", st.Data)
	}
	if st.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500 recorded, got %d", st.StatusCode)
	}
}

func TestControllerTransportErrorSameContract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // connection refused from here on

	ctrl := newTodoController(t)
	st := ctrl.Trigger(context.Background(), Request{URL: url + "/list"})
	if st.Loading || st.Err == "" {
		t.Fatalf("expected failure, got loading=%v err=%q", st.Loading, st.Err)
	}
	if len(st.Data) != 0 {
		t.Fatalf("expected zero-value payload, got %#v", st.Data)
	}
}

func TestControllerDecodeErrorIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	ctrl := newTodoController(t)
	st := ctrl.Trigger(context.Background(), Request{URL: server.URL})
	if st.Err == "" || st.Loading {
		t.Fatalf("expected decode failure, got %#v", st)
	}
}

func TestControllerNeverLoadingWithError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctrl := newTodoController(t)
	states, cancel := ctrl.Subscribe()
	defer cancel()

	ctrl.Trigger(context.Background(), Request{URL: server.URL})
	ctrl.Trigger(context.Background(), Request{URL: server.URL})

	for i := 0; i < 4; i++ {
		st := <-states
		if st.Loading && st.Err != "" {
			t.Fatalf("state %d violates invariant: %#v", i, st)
		}
	}
}

func TestControllerOverlappingTriggersLatestWins(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	fetcher := FetcherFunc(func(ctx context.Context, req Request) (Response, error) {
		if req.URL == "/slow" {
			close(started)
			<-release
			return Response{StatusCode: 200, Body: []byte(`{"v":"stale"}`)}, nil
		}
		return Response{StatusCode: 200, Body: []byte(`{"v":"fresh"}`)}, nil
	})

	ctrl := NewController[map[string]string](fetcher, nil, nil)

	done := make(chan State[map[string]string], 1)
	go func() {
		done <- ctrl.Trigger(context.Background(), Request{URL: "/slow"})
	}()
	<-started

	fresh := ctrl.Trigger(context.Background(), Request{URL: "/fast"})
	if fresh.Data["v"] != "fresh" {
		t.Fatalf("second trigger did not commit: %#v", fresh)
	}

	close(release)
	stale := <-done

	// The superseded attempt must not have overwritten the newer outcome.
	if stale.Data["v"] != "fresh" {
		t.Fatalf("stale attempt leaked into state: %#v", stale)
	}
	final := ctrl.State()
	if final.Data["v"] != "fresh" || final.Loading || final.Err != "" {
		t.Fatalf("final state corrupted by overlap: %#v", final)
	}
}

func TestControllerContextCancelled(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, req Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})
	ctrl := NewController[json.RawMessage](fetcher, func(b []byte) (json.RawMessage, error) {
		return append(json.RawMessage(nil), b...), nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := ctrl.Trigger(ctx, Request{URL: "/x"})
	if st.Err == "" || st.Loading {
		t.Fatalf("cancelled attempt must commit failure: %#v", st)
	}
}

func TestControllerSubscribeCancel(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{StatusCode: 200, Body: []byte(`{}`)}, nil
	})
	ctrl := NewController[map[string]string](fetcher, nil, nil)

	states, cancel := ctrl.Subscribe()
	cancel()
	cancel() // double cancel is safe

	if _, ok := <-states; ok {
		t.Fatalf("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	ctrl.Trigger(context.Background(), Request{URL: "/x"})
}

func TestControllerNoFetcher(t *testing.T) {
	ctrl := NewController[json.RawMessage](nil, nil, nil)
	st := ctrl.Trigger(context.Background(), Request{URL: "/x"})
	if st.Err == "" {
		t.Fatalf("expected failure without fetcher, got %#v", st)
	}
}

func TestPhaseIdle(t *testing.T) {
	var st State[int]
	if st.Phase() != PhaseIdle {
		t.Fatalf("zero state should be idle, got %s", st.Phase())
	}
}

func ExampleController_Trigger() {
	fetcher := FetcherFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{StatusCode: 200, Body: []byte(`{"price":10.5}`)}, nil
	})
	ctrl := NewController[map[string]float64](fetcher, nil, nil)
	st := ctrl.Trigger(context.Background(), Request{URL: "https://example.com/quote"})
	fmt.Println(st.Phase(), st.Data["price"])
	// Output: success 10.5
}
