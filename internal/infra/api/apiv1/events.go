package apiv1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docqa-engine/internal/infra/logging"
)

// StreamJobEvents writes the job snapshot, then every status change, as
// server-sent events. The stream closes after a terminal snapshot.
func (s *Server) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := logging.ClientIDFrom(ctx)
	jobID := chi.URLParam(r, "id")

	// Subscribe before reading the snapshot so no transition falls in between.
	ch, cancel := s.events.Subscribe(jobID)
	defer cancel()

	job, err := s.jobs.Get(ctx, clientID, jobID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, rc, "snapshot", viewOf(job)); err != nil || job.Status.IsTerminal() {
		return
	}

	tick := time.NewTicker(s.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, rc, "status", ev); err != nil {
				return
			}
			if ev.Status.IsTerminal() {
				s.writeFinal(w, rc, r, clientID, jobID)
				return
			}
		}
	}
}

func (s *Server) writeFinal(w http.ResponseWriter, rc *http.ResponseController, r *http.Request, clientID, jobID string) {
	job, err := s.jobs.Get(r.Context(), clientID, jobID)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Str("job_id", jobID).Msg("final snapshot unavailable")
		return
	}
	_ = writeSSE(w, rc, "snapshot", viewOf(job))
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	return rc.Flush()
}
