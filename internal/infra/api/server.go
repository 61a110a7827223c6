package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"docqa-engine/internal/infra/api/apiv1"
	"docqa-engine/internal/infra/logging"
)

// RouterConfig holds what the HTTP surface is built from. Metrics may be nil.
type RouterConfig struct {
	API            *apiv1.Server
	Auth           *Authenticator
	Metrics        http.Handler
	RequestTimeout time.Duration
	Health         func() error
}

// NewRouter mounts health, metrics and the authenticated v1 API.
func NewRouter(cfg RouterConfig, logger *zerolog.Logger) http.Handler {
	log := logging.Component(logger, "HTTP")
	r := chi.NewRouter()
	r.Use(Recover(log), TraceID(log), RequestLog(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware(log), Timeout(cfg.RequestTimeout))
		apiv1.RegisterAPIV1(r, cfg.API)
	})
	return r
}
