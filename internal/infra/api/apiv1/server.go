// Package apiv1 serves the job submission, status and inspector endpoints.
package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/usecase"
)

// EventSource streams job events to a subscriber until cancel is called.
type EventSource interface {
	Subscribe(jobID string) (<-chan model.JobEvent, func())
}

// TraceStore is the read side of the model call inspector.
type TraceStore interface {
	List(limit int) []model.ModelTrace
	Get(id string) (model.ModelTrace, bool)
	Clear()
	Count() int
	Capacity() int
}

// SubmitLimiter decides whether a client may submit another job.
type SubmitLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	jobs      usecase.JobUseCase
	events    EventSource
	traces    TraceStore
	limiter   SubmitLimiter
	limit     int
	heartbeat time.Duration
	log       *zerolog.Logger
}

// NewServer builds the v1 handlers. events and traces may be nil, which
// disables the event stream and the inspector.
func NewServer(jobs usecase.JobUseCase, events EventSource, traces TraceStore, logger *zerolog.Logger) *Server {
	return &Server{
		jobs:      jobs,
		events:    events,
		traces:    traces,
		heartbeat: 15 * time.Second,
		log:       logging.Component(logger, "APIv1"),
	}
}

// WithSubmitLimit caps submissions per client per minute. A non-positive
// limit or nil limiter leaves submissions unlimited.
func (s *Server) WithSubmitLimit(l SubmitLimiter, perMinute int) *Server {
	s.limiter, s.limit = l, perMinute
	return s
}

// WithHeartbeat sets the keep-alive interval of event streams.
func (s *Server) WithHeartbeat(d time.Duration) *Server {
	if d > 0 {
		s.heartbeat = d
	}
	return s
}

func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", s.ListModels)
		r.Post("/jobs", s.SubmitJob)
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		if s.events != nil {
			r.Get("/jobs/{id}/events", s.StreamJobEvents)
		}
		if s.traces != nil {
			r.Get("/inspector/traces", s.ListTraces)
			r.Get("/inspector/traces/{id}", s.GetTrace)
			r.Delete("/inspector/traces", s.ClearTraces)
		}
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeDomainError maps use case errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrUnsupportedModel):
		writeError(w, http.StatusBadRequest, "unsupported_model", err.Error())
	case errors.Is(err, domain.ErrUnsupportedEffort):
		writeError(w, http.StatusBadRequest, "unsupported_thinking_level", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
