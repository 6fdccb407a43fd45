package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opal-lang/datacube/core/plan"
	"github.com/opal-lang/datacube/runtime/executor"
	"github.com/opal-lang/datacube/runtime/export"
	"github.com/opal-lang/datacube/runtime/snapshot"
)

// maxPlanBytes bounds POST /plans bodies.
const maxPlanBytes = 1 << 20

// server exposes one executor over HTTP.
type server struct {
	exec     *executor.Executor
	store    snapshot.Store
	registry *prometheus.Registry
	logger   *slog.Logger
	router   *mux.Router
}

func newServer(x *executor.Executor, store snapshot.Store, reg *prometheus.Registry, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{exec: x, store: store, registry: reg, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *server) routes() {
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	s.router.HandleFunc("/plans", s.createPlan).Methods("POST")
	s.router.HandleFunc("/entries", s.listEntries).Methods("GET")
	s.router.HandleFunc("/entries/{name}", s.getEntry).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	s.router.Use(s.logging)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "entries": s.exec.Len()})
}

type timingJSON struct {
	Task       string  `json:"task"`
	Kind       string  `json:"kind"`
	Status     string  `json:"status"`
	DurationMS float64 `json:"duration_ms"`
}

type planResponse struct {
	RunID      string       `json:"run_id"`
	Digest     string       `json:"digest"`
	TasksRun   int          `json:"tasks_run"`
	Skipped    []string     `json:"skipped"`
	DurationMS float64      `json:"duration_ms"`
	Timings    []timingJSON `json:"timings"`
	Saved      int          `json:"saved,omitempty"`
	Error      string       `json:"error,omitempty"`
}

func (s *server) createPlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, "failed to read plan", err)
		return
	}
	format := plan.FormatYAML
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		format = plan.FormatJSON
	}
	p, err := plan.Decode(bytes.NewReader(body), format)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid plan", err)
		return
	}
	digest, err := p.Digest()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid plan", err)
		return
	}

	res, runErr := s.exec.Execute(r.Context(), p)
	resp := planResponse{
		RunID:      res.RunID.String(),
		Digest:     digest,
		TasksRun:   res.TasksRun,
		Skipped:    res.Skipped,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	if resp.Skipped == nil {
		resp.Skipped = []string{}
	}
	for _, t := range res.Timings {
		resp.Timings = append(resp.Timings, timingJSON{
			Task:       t.Task,
			Kind:       string(t.Kind),
			Status:     t.Status,
			DurationMS: float64(t.Duration.Microseconds()) / 1000,
		})
	}
	if runErr != nil {
		s.logger.Error("plan failed", "run_id", resp.RunID, "error", runErr)
		resp.Error = runErr.Error()
		s.respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if s.store != nil {
		n, err := snapshot.SaveAll(r.Context(), s.store, s.exec)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to save snapshots", err)
			return
		}
		resp.Saved = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *server) listEntries(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string][]string{"entries": s.exec.Names()})
}

func (s *server) getEntry(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	e, ok := s.exec.Entry(name)
	if !ok && s.store != nil {
		loaded, err := s.store.Load(r.Context(), name)
		switch {
		case err == nil:
			e, ok = loaded, true
		case !errors.Is(err, snapshot.ErrNotFound):
			s.respondError(w, http.StatusInternalServerError, "failed to load snapshot", err)
			return
		}
	}
	if !ok {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "no result named " + name})
		return
	}

	if r.URL.Query().Get("format") == "arrow" {
		var buf bytes.Buffer
		if err := export.WriteArrow(&buf, e); err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to encode arrow", err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}
	s.respondJSON(w, http.StatusOK, toJSON(e))
}

func (s *server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *server) respondError(w http.ResponseWriter, status int, message string, err error) {
	s.logger.Error(message, "error", err, "status", status)
	s.respondJSON(w, status, map[string]string{"error": message, "details": err.Error()})
}
