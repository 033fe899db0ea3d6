// Package api exposes the conversion service over HTTP. Every data route
// resolves the caller to an owner first; records of other owners read as 404.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/local/docmill/internal/jobs"
	"github.com/local/docmill/internal/metrics"
	"github.com/local/docmill/internal/orchestrator"
	"github.com/local/docmill/internal/store"
)

// Service is the orchestrator surface the handlers call.
type Service interface {
	Submit(ctx context.Context, ownerID string, src jobs.SourceSpec, opts jobs.ConvertOptions) (jobs.Job, error)
	GetStatus(ctx context.Context, ownerID, id string) (orchestrator.JobStatus, error)
	GetResult(ctx context.Context, ownerID, id string) (jobs.Result, error)
	ListPages(ctx context.Context, ownerID, mainID string) ([]jobs.Job, error)
	GetPage(ctx context.Context, ownerID, mainID string, pageNumber int) (jobs.Job, error)
	GetPageResult(ctx context.Context, ownerID, mainID string, pageNumber int) (jobs.Result, error)
	RetryPage(ctx context.Context, ownerID, mainID string, pageNumber int) (jobs.Job, error)
	Delete(ctx context.Context, ownerID, mainID string) error
	ListJobs(ctx context.Context, ownerID string, f store.ListFilter) (store.JobPage, error)
}

// Pinger reports backend liveness for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config bounds what the server accepts.
type Config struct {
	MaxFileSizeMB int
	UploadDir     string
	// APIKeys maps key to owner. Empty enables single-owner dev mode.
	APIKeys map[string]string
}

// Server carries the handler dependencies.
type Server struct {
	svc   Service
	cfg   Config
	store Pinger
	queue Pinger
}

// New builds the server.
func New(svc Service, cfg Config, storePing, queuePing Pinger) *Server {
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}
	return &Server{svc: svc, cfg: cfg, store: storePing, queue: queuePing}
}

// Router wires all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/upload", s.auth(s.handleUpload)).Methods(http.MethodPost)
	r.HandleFunc("/convert", s.auth(s.handleConvert)).Methods(http.MethodPost)

	r.HandleFunc("/jobs", s.auth(s.handleListJobs)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.auth(s.handleGetJob)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.auth(s.handleDeleteJob)).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id}/result", s.auth(s.handleGetResult)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/pages", s.auth(s.handleListPages)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/pages/{n:[0-9]+}/status", s.auth(s.handlePageStatus)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/pages/{n:[0-9]+}/result", s.auth(s.handlePageResult)).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/pages/{n:[0-9]+}/retry", s.auth(s.handlePageRetry)).Methods(http.MethodPost)
	return r
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

// auth resolves X-API-Key to an owner. With no configured keys every caller
// shares the "default" owner, which keeps local development keyless.
func (s *Server) auth(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APIKeys) == 0 {
			next(w, r, "default")
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, jobs.ErrAuth, "missing X-API-Key header")
			return
		}
		owner, ok := s.cfg.APIKeys[key]
		if !ok {
			writeError(w, http.StatusUnauthorized, jobs.ErrAuth, "unknown API key")
			return
		}
		next(w, r, owner)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, kind jobs.ErrorKind, msg string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: string(kind), Message: msg}})
}

// fail maps a classified error onto the HTTP surface. Internal detail stays
// in the logs; the client sees the kind and the message.
func fail(w http.ResponseWriter, err error) {
	kind := jobs.KindOf(err)
	msg := err.Error()
	var je *jobs.Error
	if errors.As(err, &je) {
		msg = je.Message
	}
	writeError(w, statusFor(kind), kind, msg)
}

func statusFor(kind jobs.ErrorKind) int {
	switch kind {
	case jobs.ErrValidation:
		return http.StatusBadRequest
	case jobs.ErrAuth:
		return http.StatusUnauthorized
	case jobs.ErrNotFound:
		return http.StatusNotFound
	case jobs.ErrConflict:
		return http.StatusConflict
	case jobs.ErrConvertFailed, jobs.ErrSplitFailed:
		return http.StatusUnprocessableEntity
	case jobs.ErrQueueUnavailable, jobs.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
