package apiv1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/redis"
)

const maxSubmitBody = 4 << 20

func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.jobs.Models()})
}

func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := logging.ClientIDFrom(ctx)

	if s.limiter != nil && s.limit > 0 {
		ok, err := s.limiter.Allow(ctx, redis.ClientSubmitKey(clientID), s.limit, time.Minute)
		if err != nil {
			// A limiter outage must not block submissions.
			logging.With(ctx, s.log).Warn().Err(err).Msg("submit rate limiter unavailable")
		} else if !ok {
			w.Header().Set("Retry-After", "60")
			s.writeDomainError(w, r, domain.ErrRateLimited)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody+1))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_argument", "request body required")
		return
	}
	if len(body) > maxSubmitBody {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return
	}
	var spec model.JobSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json: "+err.Error())
		return
	}
	if spec.ClientID != "" && spec.ClientID != clientID {
		s.writeDomainError(w, r, domain.ErrForbidden)
		return
	}
	spec.ClientID = clientID

	job, err := s.jobs.Submit(ctx, spec)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), logging.ClientIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.JobFilter{
		ClientID:       logging.ClientIDFrom(r.Context()),
		ConversationID: strings.TrimSpace(q.Get("conversation_id")),
		Status:         model.JobStatus(strings.TrimSpace(q.Get("status"))),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeDomainError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidArgument))
			return
		}
		f.Limit = n
	}
	jobs, err := s.jobs.List(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	items := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, viewOf(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
