package controlplane

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cyclab/aurora/internal/executors"
	"github.com/cyclab/aurora/internal/job"
	"github.com/cyclab/aurora/internal/models"
	"github.com/cyclab/aurora/internal/protocol"
)

// Server provides the HTTP API for the Aurora daemon.
type Server struct {
	service *Service
	addr    string
	token   string
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates the API server. An empty token disables authentication.
func NewServer(service *Service, addr, token string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		addr:    addr,
		token:   token,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/samples", s.handleSamples)
	mux.HandleFunc("/api/samples/", s.handleSampleByID)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobByID)
	mux.HandleFunc("/api/states", s.handleStates)
	mux.HandleFunc("/api/backends", s.handleBackends)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return s.authenticate(mux)
}

// Start runs the HTTP server until Shutdown or failure.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("api listening", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authenticate enforces the bearer token on every route except the health
// probe. Constant-time comparison keeps the token unguessable by timing.
func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Sample Handlers ---

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSample(w, r)
	case http.MethodGet:
		s.listSamples(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSampleByID handles /api/samples/{id} and /api/samples/{id}/states.
func (s *Server) handleSampleByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/samples/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "sample id required")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getSample(w, r, id)
	case action == "states" && r.Method == http.MethodGet:
		s.listSampleStates(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) createSample(w http.ResponseWriter, r *http.Request) {
	var sample models.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := s.service.CreateSample(&sample)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.service.ListSamples()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) getSample(w http.ResponseWriter, r *http.Request, id string) {
	sample, err := s.service.GetSample(id)
	if errors.Is(err, ErrSampleNotFound) {
		writeError(w, http.StatusNotFound, "sample not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) listSampleStates(w http.ResponseWriter, r *http.Request, id string) {
	sample, err := s.service.GetSample(id)
	if errors.Is(err, ErrSampleNotFound) {
		writeError(w, http.StatusNotFound, "sample not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	states, err := s.service.ListStates(sample.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if states == nil {
		states = []models.SampleState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// --- Job Handlers ---

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submitJob(w, r)
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobByID handles /api/jobs/{id} and its verdict, output, and
// provenance subresources.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/jobs/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch action {
	case "":
		s.getJob(w, r, id)
	case "verdict":
		s.getVerdict(w, r, id)
	case "output":
		s.getOutput(w, r, id)
	case "provenance":
		s.getProvenance(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type submitJobRequest struct {
	SampleID string            `json:"sample_id"`
	Executor string            `json:"executor"`
	Protocol protocol.Document `json:"protocol"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	created, err := s.service.SubmitJob(req.SampleID, &req.Protocol, req.Executor)
	if err != nil {
		var vErr *protocol.ValidationError
		var pErr *job.PackagingError
		switch {
		case errors.Is(err, ErrSampleNotFound):
			writeError(w, http.StatusNotFound, "sample not found")
		case errors.As(err, &pErr):
			writeError(w, http.StatusUnprocessableEntity, pErr.Error())
		case errors.As(err, &vErr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      "protocol validation failed",
				"step_index": vErr.StepIndex,
				"field":      vErr.Field,
				"constraint": vErr.Constraint,
			})
		case errors.Is(err, ErrUnknownExecutor):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	sampleID := r.URL.Query().Get("sample")
	jobs, err := s.service.ListJobs(status, sampleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, id string) {
	j, err := s.service.GetJob(id)
	if errors.Is(err, ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) getVerdict(w http.ResponseWriter, r *http.Request, id string) {
	v, err := s.service.GetVerdict(id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ErrNoVerdict):
		writeError(w, http.StatusNotFound, "no verdict recorded")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) getOutput(w http.ResponseWriter, r *http.Request, id string) {
	out, err := s.service.GetOutput(id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ErrNoOutput):
		writeError(w, http.StatusNotFound, "no output available")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) getProvenance(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.service.GetJob(id); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries, err := s.service.ListProvenance(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.ProvenanceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- State and Backend Handlers ---

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	states, err := s.service.ListStates(r.URL.Query().Get("sample"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if states == nil {
		states = []models.SampleState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	backends := s.service.Backends()
	if backends == nil {
		backends = []executors.Backend{}
	}
	writeJSON(w, http.StatusOK, backends)
}

// --- Helpers ---

// splitPath pulls the resource id and optional trailing action out of a
// path like /api/jobs/{id}/verdict.
func splitPath(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) > 1 {
		action = strings.Trim(parts[1], "/")
	}
	return id, action
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
