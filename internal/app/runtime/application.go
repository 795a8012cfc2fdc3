// Package runtime wires configuration, persistence, the application services
// and the HTTP server into a runnable process.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/SourcePulse/fetch_layer/internal/app"
	"github.com/SourcePulse/fetch_layer/internal/app/httpapi"
	"github.com/SourcePulse/fetch_layer/internal/app/metrics"
	fetchsvc "github.com/SourcePulse/fetch_layer/internal/app/services/fetch"
	"github.com/SourcePulse/fetch_layer/internal/app/storage/postgres"
	"github.com/SourcePulse/fetch_layer/internal/config"
	"github.com/SourcePulse/fetch_layer/internal/httpserver"
	"github.com/SourcePulse/fetch_layer/internal/middleware"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *httpserver.Server
	db         *sqlx.DB
	redis      *redis.Client
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Logging)

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	opts := app.Options{
		FetchTimeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		APIKey:       cfg.Fetch.APIKey,
		UserAgent:    cfg.Fetch.UserAgent,
		CacheTTL:     time.Duration(cfg.Fetch.CacheTTLSeconds) * time.Second,
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unreachable; using in-process cache")
			_ = redisClient.Close()
			redisClient = nil
		} else {
			opts.Cache = fetchsvc.NewRedisCache(redisClient, "fetch_layer")
		}
	}
	if opts.Cache == nil && opts.CacheTTL > 0 {
		opts.Cache = fetchsvc.NewMemoryCache()
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler := httpapi.WithAuth(httpapi.NewHandler(application, log), cfg.Server.AuthTokens)
	if cfg.Server.RateLimitPerMinute > 0 {
		handler = middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute, log).Handler(handler)
	}
	handler = metrics.InstrumentHandler(handler)

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: httpserver.New(cfg.Server, log, handler),
		db:         db,
		redis:      redisClient,
	}, nil
}

// Run starts the background services and HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr())
		if err := a.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and background services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("database dsn not configured; using in-memory stores")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.Migrate(migrateCtx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("run migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{Sources: store, Snapshots: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
