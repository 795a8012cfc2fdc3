package fetchstate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// DecodeFunc turns a raw response body into the controller's payload type.
type DecodeFunc[T any] func(body []byte) (T, error)

// Controller owns the lifecycle of fetch attempts for one endpoint and the
// resulting state publication. Overlapping triggers follow a latest-wins
// policy: every call bumps the attempt counter, and a completion commits only
// while its attempt is still the newest, so the final state always reflects
// exactly one attempt.
type Controller[T any] struct {
	fetcher Fetcher
	decode  DecodeFunc[T]
	log     *logger.Logger

	mu      sync.Mutex
	state   State[T]
	seq     uint64
	subs    map[int]chan State[T]
	nextSub int
}

// NewController constructs a controller in the idle state. A nil decode
// defaults to JSON unmarshalling into T.
func NewController[T any](fetcher Fetcher, decode DecodeFunc[T], log *logger.Logger) *Controller[T] {
	if decode == nil {
		decode = func(body []byte) (T, error) {
			var v T
			err := json.Unmarshal(body, &v)
			return v, err
		}
	}
	if log == nil {
		log = logger.NewDefault("fetchstate")
	}
	return &Controller[T]{
		fetcher: fetcher,
		decode:  decode,
		log:     log,
		subs:    make(map[int]chan State[T]),
	}
}

// Trigger starts one fetch attempt. The state moves to loading immediately
// (retaining the prior payload), the transport runs on the calling goroutine,
// and exactly one terminal state is committed unless a newer trigger
// supersedes this attempt first. All failure classes collapse into the
// state's Err message; Trigger never returns a Go error.
func (c *Controller[T]) Trigger(ctx context.Context, req Request) State[T] {
	c.mu.Lock()
	c.seq++
	attempt := c.seq
	st := c.state
	st.Loading = true
	st.Err = ""
	st.Attempt = attempt
	st.UpdatedAt = time.Now().UTC()
	c.state = st
	c.publishLocked(st)
	c.mu.Unlock()

	if c.fetcher == nil {
		return c.commit(attempt, 0, *new(T), errNoFetcher)
	}

	resp, err := c.fetcher.Fetch(ctx, req)

	var data T
	if err == nil {
		data, err = c.decode(resp.Body)
	}
	return c.commit(attempt, resp.StatusCode, data, err)
}

// State returns a snapshot of the current state.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers an observer channel that receives every committed
// transition. Slow observers may miss intermediate states but can always read
// the latest via State. The returned cancel func releases the subscription.
func (c *Controller[T]) Subscribe() (<-chan State[T], func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan State[T], 8)
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

func (c *Controller[T]) commit(attempt uint64, statusCode int, data T, err error) State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if attempt != c.seq {
		// A newer trigger superseded this attempt; discard its outcome.
		return c.state
	}

	st := c.state
	st.Loading = false
	st.Attempt = attempt
	st.StatusCode = statusCode
	st.UpdatedAt = time.Now().UTC()
	if err != nil {
		st.Err = err.Error()
	} else {
		st.Err = ""
		st.Data = data
	}
	c.state = st
	c.publishLocked(st)
	return st
}

func (c *Controller[T]) publishLocked(st State[T]) {
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

type fetchError string

func (e fetchError) Error() string { return string(e) }

const errNoFetcher = fetchError("fetch failed: no fetcher configured")
