// Package server exposes the meeting session over HTTP: chunked audio
// intake, diarization triggering, the provider webhook, speaker snapshots
// and management, and a websocket stream that pushes the snapshot on every
// state change.
//
// Soft operational failures (nothing buffered, a job already running) are
// reported as 200 responses with {"success": false, "message": ...} so a
// polling UI can surface them without treating them as transport errors.
// Genuine faults map to conventional status codes: 400 for malformed input,
// 404 for unknown identities, 502/503 for provider trouble.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spokelab/airtime/internal/health"
	"github.com/spokelab/airtime/internal/observe"
	"github.com/spokelab/airtime/internal/reconcile"
	"github.com/spokelab/airtime/internal/resilience"
	"github.com/spokelab/airtime/internal/session"
	"github.com/spokelab/airtime/pkg/diarization"
)

// Config configures a [Server].
type Config struct {
	// Session is the meeting state holder. Required.
	Session *session.Session

	// Provider parses webhook payloads. Required.
	Provider diarization.Provider

	// Health serves the liveness and readiness routes. A checker-less
	// handler is created if nil.
	Health *health.Handler

	// Metrics receives HTTP instrumentation. Defaults to
	// [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics
}

// Server holds the HTTP handlers for one meeting session.
type Server struct {
	session  *session.Session
	provider diarization.Provider
	health   *health.Handler
	metrics  *observe.Metrics
	hub      *streamHub
}

// New creates a [Server]. Wire [Server.Broadcast] to the session's OnUpdate
// callback so the websocket stream sees every state change.
func New(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, errors.New("server: session must not be nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("server: provider must not be nil")
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{
		session:  cfg.Session,
		provider: cfg.Provider,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
	}
	s.hub = newStreamHub(cfg.Session, cfg.Metrics)
	return s, nil
}

// Broadcast pushes the current speakers snapshot to all websocket
// subscribers. Safe to call from any goroutine.
func (s *Server) Broadcast() {
	s.hub.broadcast()
}

// Handler returns the full route table wrapped in tracing/metrics middleware
// and permissive CORS for the separately served browser UI.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/audio/add", s.handleAudioAdd)
	mux.HandleFunc("POST /api/diarize", s.handleDiarize)
	mux.HandleFunc("POST /api/webhook/diarization", s.handleWebhook)
	mux.HandleFunc("GET /api/speakers", s.handleSpeakers)
	mux.HandleFunc("GET /api/speakers/stream", s.hub.handleStream)
	mux.HandleFunc("POST /api/speakers/add", s.handleSpeakerAdd)
	mux.HandleFunc("POST /api/speakers/{id}/name", s.handleSpeakerName)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("POST /api/reset", s.handleReset)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(allowCORS(mux))
}

// ---- handlers ----

func (s *Server) handleAudioAdd(w http.ResponseWriter, r *http.Request) {
	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read audio body"})
		return
	}

	size, err := s.session.AddChunk(r.Context(), chunk)
	if errors.Is(err, session.ErrBufferFull) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success    bool `json:"success"`
		BufferSize int  `json:"bufferSize"`
	}{Success: true, BufferSize: size})
}

func (s *Server) handleDiarize(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an explicit numSpeakers overrides the click
	// count heuristic.
	var req struct {
		NumSpeakers int `json:"numSpeakers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body"})
		return
	}

	job, err := s.session.Trigger(r.Context(), req.NumSpeakers)
	switch {
	case errors.Is(err, session.ErrEmptyBuffer):
		writeJSON(w, http.StatusOK, softFailure{Message: "No audio to process"})
		return
	case errors.Is(err, session.ErrJobPending):
		writeJSON(w, http.StatusOK, softFailure{Message: "A diarization job is already running"})
		return
	case errors.Is(err, resilience.ErrBreakerOpen):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "diarization temporarily unavailable"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		JobID   string `json:"jobId"`
		Status  string `json:"status"`
	}{Success: true, JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.RecordWebhookDelivery(r.Context(), "invalid")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read webhook body"})
		return
	}

	res, err := s.provider.ParseWebhook(body)
	if err != nil {
		s.metrics.RecordWebhookDelivery(r.Context(), "invalid")
		observe.Logger(r.Context()).Warn("rejected webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid webhook payload"})
		return
	}

	applied, err := s.session.ApplyResult(r.Context(), session.SourceWebhook, res)
	disposition := "applied"
	switch {
	case errors.Is(err, session.ErrUnknownJob):
		// Likely a job submitted before a restart or reset. Acknowledge so
		// the provider does not retry.
		disposition = "unknown_job"
		observe.Logger(r.Context()).Warn("webhook for unknown job", "job_id", res.JobID)
	case err != nil:
		s.metrics.RecordWebhookDelivery(r.Context(), "error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	case !applied:
		disposition = "duplicate"
	}
	s.metrics.RecordWebhookDelivery(r.Context(), disposition)

	writeJSON(w, http.StatusOK, struct {
		Received bool `json:"received"`
	}{Received: true})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Speakers())
}

func (s *Server) handleSpeakerAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string   `json:"name"`
		Timecode *float64 `json:"timecode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "name is required"})
		return
	}
	if req.Timecode == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "timecode is required"})
		return
	}

	click, err := s.session.AddClick(req.Name, *req.Timecode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success  bool    `json:"success"`
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Timecode float64 `json:"timecode"`
		Matched  string  `json:"matched,omitempty"`
	}{Success: true, ID: click.ID, Name: click.Name, Timecode: click.Timecode, Matched: click.MatchedID})
}

func (s *Server) handleSpeakerName(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "name is required"})
		return
	}

	err := s.session.Rename(id, req.Name)
	switch {
	case errors.Is(err, reconcile.ErrUnknownIdentity):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown identity " + id})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
		Name    string `json:"name"`
	}{Success: true, ID: id, Name: req.Name})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.session.Pause()
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Paused  bool `json:"paused"`
	}{Success: true, Paused: true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.session.Resume()
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		Paused  bool `json:"paused"`
	}{Success: true, Paused: false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session.Reset(r.Context())
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}

// ---- response plumbing ----

// errorBody is the JSON shape for hard failures.
type errorBody struct {
	Error string `json:"error"`
}

// softFailure is the 200-status shape for operational conditions the UI
// handles inline.
type softFailure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON encodes v with the given status. Encoding failures are logged;
// the status line has already been written at that point.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// allowCORS permits cross-origin calls so the recording UI can be served
// from a different origin than the API.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
