package apiv1

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) ListTraces(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    s.traces.List(limit),
		"count":    s.traces.Count(),
		"capacity": s.traces.Capacity(),
	})
}

func (s *Server) GetTrace(w http.ResponseWriter, r *http.Request) {
	t, ok := s.traces.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) ClearTraces(w http.ResponseWriter, r *http.Request) {
	s.traces.Clear()
	w.WriteHeader(http.StatusNoContent)
}
