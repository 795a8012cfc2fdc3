// Package sources manages source definitions: named remote JSON endpoints
// that the fetch service polls and triggers.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/robfig/cron/v3"

	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

const defaultInterval = "@every 1m"

// Service manages source definitions.
type Service struct {
	store storage.SourceStore
	log   *logger.Logger
}

// New constructs a sources service.
func New(store storage.SourceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sources")
	}
	return &Service{store: store, log: log}
}

// Create registers a new source definition.
func (s *Service) Create(ctx context.Context, src source.Source) (source.Source, error) {
	src.Name = strings.TrimSpace(src.Name)
	src.URL = strings.TrimSpace(src.URL)
	src.Method = strings.ToUpper(strings.TrimSpace(src.Method))
	src.Interval = strings.TrimSpace(src.Interval)
	src.JSONPath = strings.TrimSpace(src.JSONPath)

	if src.Name == "" {
		return source.Source{}, fmt.Errorf("name is required")
	}
	if src.Method == "" {
		src.Method = http.MethodGet
	}
	if src.Interval == "" {
		src.Interval = defaultInterval
	}
	if err := validateSource(src); err != nil {
		return source.Source{}, err
	}

	existing, err := s.store.ListSources(ctx)
	if err != nil {
		return source.Source{}, err
	}
	for _, other := range existing {
		if strings.EqualFold(other.Name, src.Name) {
			return source.Source{}, fmt.Errorf("source named %s already exists", src.Name)
		}
	}

	src.Active = true
	src, err = s.store.CreateSource(ctx, src)
	if err != nil {
		return source.Source{}, err
	}
	s.log.WithField("source_id", src.ID).
		WithField("name", src.Name).
		WithField("url", src.URL).
		Info("source created")
	return src, nil
}

// Update applies non-nil fields to an existing source.
func (s *Service) Update(ctx context.Context, id string, name, rawURL, method, jsonPath, interval *string, headers map[string]string) (source.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return source.Source{}, err
	}

	if name != nil {
		if trimmed := strings.TrimSpace(*name); trimmed != "" {
			src.Name = trimmed
		} else {
			return source.Source{}, fmt.Errorf("name cannot be empty")
		}
	}
	if rawURL != nil {
		src.URL = strings.TrimSpace(*rawURL)
	}
	if method != nil {
		src.Method = strings.ToUpper(strings.TrimSpace(*method))
	}
	if jsonPath != nil {
		src.JSONPath = strings.TrimSpace(*jsonPath)
	}
	if interval != nil {
		if trimmed := strings.TrimSpace(*interval); trimmed != "" {
			src.Interval = trimmed
		} else {
			return source.Source{}, fmt.Errorf("interval cannot be empty")
		}
	}
	if headers != nil {
		src.Headers = headers
	}

	if err := validateSource(src); err != nil {
		return source.Source{}, err
	}

	src, err = s.store.UpdateSource(ctx, src)
	if err != nil {
		return source.Source{}, err
	}
	s.log.WithField("source_id", src.ID).Info("source updated")
	return src, nil
}

// SetActive toggles the active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (source.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return source.Source{}, err
	}
	if src.Active == active {
		return src, nil
	}

	src.Active = active
	src, err = s.store.UpdateSource(ctx, src)
	if err != nil {
		return source.Source{}, err
	}
	s.log.WithField("source_id", src.ID).
		WithField("active", active).
		Info("source state changed")
	return src, nil
}

// Get retrieves a single source by identifier.
func (s *Service) Get(ctx context.Context, id string) (source.Source, error) {
	return s.store.GetSource(ctx, id)
}

// List returns all configured sources.
func (s *Service) List(ctx context.Context) ([]source.Source, error) {
	return s.store.ListSources(ctx)
}

// Delete removes a source and its recorded snapshots.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSource(ctx, id); err != nil {
		return err
	}
	s.log.WithField("source_id", id).Info("source deleted")
	return nil
}

func validateSource(src source.Source) error {
	if src.URL == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(src.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("url host is required")
	}

	switch src.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("unsupported method %s", src.Method)
	}

	if _, err := cron.ParseStandard(src.Interval); err != nil {
		return fmt.Errorf("parse interval: %w", err)
	}

	if src.JSONPath != "" {
		if _, err := jsonpath.New(src.JSONPath); err != nil {
			return fmt.Errorf("parse json_path: %w", err)
		}
	}
	return nil
}
