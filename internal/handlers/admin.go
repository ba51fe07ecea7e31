// Package handlers serves the admin HTTP endpoints of the sink worker.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kafkasink/internal/event"
	"kafkasink/internal/middleware"
	"kafkasink/internal/streams"
	"kafkasink/internal/worker"
)

// WorkerStats exposes partition worker state
type WorkerStats interface {
	Stats() worker.Stats
	Partitions() []worker.PartitionStatus
}

// StreamCatalog lists known streams
type StreamCatalog interface {
	List() []streams.Stream
	Get(name string) (streams.Stream, bool)
}

// AdminConfig holds the sources the admin endpoints report on
type AdminConfig struct {
	Worker  WorkerStats
	Streams StreamCatalog

	// Healthy reports whether the consumer is fetching
	Healthy func() bool

	// OpenSegments reports staging segments being written, optional
	OpenSegments func() int
}

// AdminHandler serves health, stats, streams and metrics
type AdminHandler struct {
	cfg AdminConfig
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{cfg: cfg}
}

// Routes returns the admin mux wrapped in recovery and logging
func (h *AdminHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /streams", h.listStreams)
	mux.HandleFunc("GET /streams/{name}", h.getStream)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Chain(mux, middleware.Recovery, middleware.Logging)
}

func (h *AdminHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Healthy != nil && !h.cfg.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type statsResponse struct {
	Worker       worker.Stats             `json:"worker"`
	Partitions   []worker.PartitionStatus `json:"partitions"`
	OpenSegments int                      `json:"open_segments"`
}

func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Worker:     h.cfg.Worker.Stats(),
		Partitions: h.cfg.Worker.Partitions(),
	}
	if h.cfg.OpenSegments != nil {
		resp.OpenSegments = h.cfg.OpenSegments()
	}
	writeJSON(w, http.StatusOK, resp)
}

type streamResponse struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Schema    json.RawMessage `json:"schema,omitempty"`
}

func toStreamResponse(s streams.Stream, withSchema bool) (streamResponse, error) {
	resp := streamResponse{Name: s.Name, Type: string(s.Type), CreatedAt: s.CreatedAt}
	if withSchema {
		schema, err := event.EncodeSchema(s.Schema)
		if err != nil {
			return resp, err
		}
		resp.Schema = schema
	}
	return resp, nil
}

func (h *AdminHandler) listStreams(w http.ResponseWriter, r *http.Request) {
	list := h.cfg.Streams.List()
	out := make([]streamResponse, 0, len(list))
	for _, s := range list {
		resp, _ := toStreamResponse(s, false)
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": out})
}

func (h *AdminHandler) getStream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.cfg.Streams.Get(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	resp, err := toStreamResponse(s, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
