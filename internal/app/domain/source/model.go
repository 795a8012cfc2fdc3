package source

import (
	"encoding/json"
	"time"
)

// Source represents a configured remote JSON endpoint.
type Source struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	JSONPath  string            `json:"json_path,omitempty"`
	Interval  string            `json:"interval"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Snapshot captures one recorded fetch outcome for a source.
type Snapshot struct {
	ID          string          `json:"id"`
	SourceID    string          `json:"source_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	StatusCode  int             `json:"status_code"`
	DurationMS  int64           `json:"duration_ms"`
	CollectedAt time.Time       `json:"collected_at"`
	CreatedAt   time.Time       `json:"created_at"`
}
