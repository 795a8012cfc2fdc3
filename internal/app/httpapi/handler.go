// Package httpapi exposes the application services over a REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/mem"

	app "github.com/SourcePulse/fetch_layer/internal/app"
	"github.com/SourcePulse/fetch_layer/internal/app/domain/source"
	"github.com/SourcePulse/fetch_layer/internal/app/fetchstate"
	"github.com/SourcePulse/fetch_layer/internal/app/metrics"
	"github.com/SourcePulse/fetch_layer/internal/app/storage"
	"github.com/SourcePulse/fetch_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app: application,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/sources", h.createSource).Methods(http.MethodPost)
	r.HandleFunc("/sources", h.listSources).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}", h.getSource).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}", h.updateSource).Methods(http.MethodPatch)
	r.HandleFunc("/sources/{id}", h.deleteSource).Methods(http.MethodDelete)
	r.HandleFunc("/sources/{id}/trigger", h.triggerSource).Methods(http.MethodPost)
	r.HandleFunc("/sources/{id}/state", h.sourceState).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}/snapshots", h.sourceSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id}/watch", h.watchSource).Methods(http.MethodGet)
	return r
}

// stateResponse is the wire form of a controller state.
type stateResponse struct {
	Phase      string          `json:"phase"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Loading    bool            `json:"loading"`
	Attempt    uint64          `json:"attempt"`
	StatusCode int             `json:"status_code,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toStateResponse(st fetchstate.State[json.RawMessage]) stateResponse {
	return stateResponse{
		Phase:      string(st.Phase()),
		Data:       st.Data,
		Error:      st.Err,
		Loading:    st.Loading,
		Attempt:    st.Attempt,
		StatusCode: st.StatusCode,
		UpdatedAt:  st.UpdatedAt,
	}
}

func (h *handler) createSource(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string            `json:"name"`
		URL      string            `json:"url"`
		Method   string            `json:"method"`
		Headers  map[string]string `json:"headers"`
		JSONPath string            `json:"json_path"`
		Interval string            `json:"interval"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Sources.Create(r.Context(), source.Source{
		Name:     payload.Name,
		URL:      payload.URL,
		Method:   payload.Method,
		Headers:  payload.Headers,
		JSONPath: payload.JSONPath,
		Interval: payload.Interval,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := h.app.Sources.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, srcs)
}

func (h *handler) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := h.app.Sources.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (h *handler) updateSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var payload struct {
		Name     *string           `json:"name"`
		URL      *string           `json:"url"`
		Method   *string           `json:"method"`
		Headers  map[string]string `json:"headers"`
		JSONPath *string           `json:"json_path"`
		Interval *string           `json:"interval"`
		Active   *bool             `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	src, err := h.app.Sources.Update(r.Context(), id, payload.Name, payload.URL, payload.Method, payload.JSONPath, payload.Interval, payload.Headers)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if payload.Active != nil {
		src, err = h.app.Sources.SetActive(r.Context(), id, *payload.Active)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}

	// The next trigger rebuilds the controller from the updated definition.
	h.app.Fetch.Invalidate(id)
	writeJSON(w, http.StatusOK, src)
}

func (h *handler) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.app.Sources.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.app.Fetch.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) triggerSource(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Fetch.Trigger(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(st))
}

func (h *handler) sourceState(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Fetch.State(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(st))
}

func (h *handler) sourceSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.app.Fetch.Snapshots(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// watchSource streams state transitions over a websocket. The current state
// is sent first, then every committed transition until the client or server
// disconnects.
func (h *handler) watchSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	updates, cancel, err := h.app.Fetch.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Read pump: drain client frames so closes are noticed promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current, err := h.app.Fetch.State(r.Context(), id)
	if err == nil {
		if err := conn.WriteJSON(toStateResponse(current)); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(toStateResponse(st)); err != nil {
				return
			}
		}
	}
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory_used_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, body)
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
