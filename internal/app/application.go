package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SourcePulse/fetch_layer/internal/app/fetchstate"
	fetchsvc "github.com/SourcePulse/fetch_layer/internal/app/services/fetch"
	sourcessvc "github.com/SourcePulse/fetch_layer/internal/app/services/sources"
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
	"github.com/SourcePulse/fetch_layer/internal/app/storage/memory"
	"github.com/SourcePulse/fetch_layer/internal/app/system"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Sources   storage.SourceStore
	Snapshots storage.SnapshotStore
}

// Options tunes application behaviour beyond its persistence layer.
type Options struct {
	// FetchTimeout bounds the transport round trip of one attempt.
	FetchTimeout time.Duration
	// APIKey is sent as a bearer token on outgoing fetches when set.
	APIKey string
	// UserAgent overrides the User-Agent header on outgoing fetches.
	UserAgent string
	// Cache stores fetched bodies; nil disables caching.
	Cache fetchsvc.Cache
	// CacheTTL bounds how long cached bodies are served.
	CacheTTL time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Sources *sourcessvc.Service
	Fetch   *fetchsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sources == nil {
		stores.Sources = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}

	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}

	manager := system.NewManager()

	sourceService := sourcessvc.New(stores.Sources, log)

	httpClient := &http.Client{Timeout: opts.FetchTimeout}
	fetcher := fetchstate.NewHTTPFetcher(httpClient, opts.APIKey, log)
	if opts.UserAgent != "" {
		fetcher.WithUserAgent(opts.UserAgent)
	}
	fetchService := fetchsvc.New(stores.Sources, stores.Snapshots, fetcher, opts.Cache, opts.CacheTTL, log)

	if err := manager.Register(system.NoopService{ServiceName: "sources"}); err != nil {
		return nil, fmt.Errorf("register sources service: %w", err)
	}

	refresher := fetchsvc.NewRefresher(fetchService, stores.Sources, log)
	if err := manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Sources: sourceService,
		Fetch:   fetchService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
