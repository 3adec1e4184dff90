package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/iot-relay/internal/audit"
	"github.com/nerrad567/iot-relay/internal/auth"
	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/config"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
	"github.com/nerrad567/iot-relay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Relay   *relay.Relay
	Devices device.Repository
	Tokens  *auth.TokenIssuer

	// Events records signups and token issues and backs the history
	// endpoint. Optional.
	Events audit.Repository

	// Database failing its health check turns /health into a 503.
	Database HealthChecker

	// Optional reports optional integrations (mqtt, influxdb). Failures
	// mark the service degraded but keep /health at 200.
	Optional map[string]HealthChecker

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP API server. It is created with New and started with Start.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	metrics  config.MetricsConfig
	logger   *logging.Logger
	relay    *relay.Relay
	devices  device.Repository
	tokens   *auth.TokenIssuer
	events   audit.Repository
	database HealthChecker
	optional map[string]HealthChecker
	gatherer prometheus.Gatherer
	version  string

	// baseCtx is handed to relay sessions; it outlives individual requests.
	baseCtx context.Context
	cancel  context.CancelFunc
	server  *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		relay:    deps.Relay,
		devices:  deps.Devices,
		tokens:   deps.Tokens,
		events:   deps.Events,
		database: deps.Database,
		optional: deps.Optional,
		gatherer: gatherer,
		version:  deps.Version,
		baseCtx:  context.Background(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// Cancelling ctx, or calling Close, ends every relay session it started.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server. Relay sessions are ended
// with a going-away close and waited for, so their offline events reach
// the presence observers before the stores behind them are closed. Then
// in-flight HTTP requests are drained.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down", "connections", s.relay.Connections())
	if err := s.relay.Shutdown(ctx); err != nil {
		s.logger.Warn("relay sessions still running at shutdown", "error", err)
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
