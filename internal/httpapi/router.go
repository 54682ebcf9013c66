// Package httpapi exposes the analysis service over HTTP: job submission,
// status polling, and a live progress stream per job.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/cache"
	"github.com/gamereview/api/internal/engine"
	"github.com/gamereview/api/internal/job"
)

// Handler serves the analysis API.
type Handler struct {
	jobs  *job.Manager
	pool  *engine.Pool
	cache *cache.Layer
	log   zerolog.Logger
}

// NewRouter creates the HTTP router. pool and layer are optional; when
// present their counters show up under /v1/stats.
func NewRouter(log zerolog.Logger, jobs *job.Manager, pool *engine.Pool, layer *cache.Layer) http.Handler {
	h := &Handler{
		jobs:  jobs,
		pool:  pool,
		cache: layer,
		log:   log,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/readyz", http.HandlerFunc(h.health))
	mux.Handle("/v1/analysis", http.HandlerFunc(h.submitAnalysis))
	mux.Handle("/v1/analysis/", http.HandlerFunc(h.analysis))
	mux.Handle("/v1/stats", http.HandlerFunc(h.stats))

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if h.pool != nil {
		resp["engine"] = h.pool.Stats()
	}
	if h.cache != nil {
		resp["cache"] = h.cache.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitRequest struct {
	Username string `json:"username"`
}

// submitAnalysis starts an analysis job for a username and returns the job
// snapshot immediately. A fresh cached report completes the job in-line.
func (h *Handler) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		http.Error(w, "username required", http.StatusBadRequest)
		return
	}

	snap := h.jobs.Submit(r.Context(), req.Username)
	writeJSON(w, http.StatusAccepted, snap)
}

// analysis dispatches /v1/analysis/{id} and /v1/analysis/{id}/events.
func (h *Handler) analysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 3:
		h.analysisStatus(w, r, parts[2])
	case len(parts) == 4 && parts[3] == "events":
		h.analysisEvents(w, r, parts[2])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) analysisStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	snap, err := h.jobs.GetStatus(jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("get job status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// analysisEvents streams job progress as server-sent events. The stream
// ends after the terminal event or when the client disconnects.
func (h *Handler) analysisEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	events, cancel, err := h.jobs.Subscribe(jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("subscribe to job")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error().Err(err).Str("job_id", jobID).Msg("encode event")
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// splitPath splits a URL path into its non-empty segments.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
