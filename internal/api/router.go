package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each dependency ping made by /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get(s.wsPath(), s.handleWebSocket)

	if s.metrics.Enabled {
		r.Handle(s.metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Post("/", s.handleRegisterDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/token", s.handleIssueToken)
				r.Get("/presence", s.handlePresence)
				if s.events != nil {
					r.Get("/events", s.handleListEvents)
				}
			})
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Connections int               `json:"connections"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// handleHealth reports the server status. A failing database answers 503;
// a failing optional integration only marks the service degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     s.version,
		Connections: s.relay.Connections(),
		Checks:      make(map[string]string),
	}
	status := http.StatusOK

	if s.database != nil {
		if err := s.check(r.Context(), s.database); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp.Checks["database"] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	for name, checker := range s.optional {
		if err := s.check(r.Context(), checker); err != nil {
			resp.Checks[name] = "unavailable"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

func (s *Server) check(ctx context.Context, checker HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return checker.HealthCheck(ctx)
}
