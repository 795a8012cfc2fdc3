package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SourcePulse/fetch_layer/internal/app/storage"
	"github.com/SourcePulse/fetch_layer/internal/app/system"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// Refresher periodically scans active sources and triggers the ones whose
// schedule is due. Each source advances on its own cron interval; the ticker
// only bounds how often schedules are checked.
type Refresher struct {
	service  *Service
	sources  storage.SourceStore
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	next    map[string]time.Time
}

// NewRefresher creates a lifecycle-managed source refresher.
func NewRefresher(service *Service, sources storage.SourceStore, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("fetch-refresher")
	}
	return &Refresher{
		service:  service,
		sources:  sources,
		log:      log,
		interval: 10 * time.Second,
		next:     make(map[string]time.Time),
	}
}

func (r *Refresher) Name() string { return "fetch-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("fetch refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("fetch refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	if r.service == nil || r.sources == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	srcs, err := r.sources.ListSources(ctx)
	if err != nil {
		r.log.WithError(err).Warn("fetch refresher tick failed")
		return
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(srcs))
	for _, src := range srcs {
		seen[src.ID] = struct{}{}
		if !src.Active {
			continue
		}

		schedule, err := cron.ParseStandard(src.Interval)
		if err != nil {
			r.log.WithError(err).
				WithField("source_id", src.ID).
				Warn("skipping source with invalid interval")
			continue
		}

		r.mu.Lock()
		due, tracked := r.next[src.ID]
		if !tracked {
			// Newly discovered sources fire on the next scheduled slot.
			due = schedule.Next(now)
			r.next[src.ID] = due
		}
		r.mu.Unlock()

		if now.Before(due) {
			continue
		}

		if _, err := r.service.Trigger(ctx, src.ID); err != nil {
			r.log.WithError(err).
				WithField("source_id", src.ID).
				Warn("scheduled trigger failed")
		}

		r.mu.Lock()
		r.next[src.ID] = schedule.Next(now)
		r.mu.Unlock()
	}

	// Drop schedule entries for sources that no longer exist.
	r.mu.Lock()
	for id := range r.next {
		if _, ok := seen[id]; !ok {
			delete(r.next, id)
		}
	}
	r.mu.Unlock()
}
