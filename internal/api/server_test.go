package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/iot-relay/internal/audit"
	"github.com/nerrad567/iot-relay/internal/auth"
	"github.com/nerrad567/iot-relay/internal/device"
	"github.com/nerrad567/iot-relay/internal/infrastructure/config"
	"github.com/nerrad567/iot-relay/internal/infrastructure/database"
	"github.com/nerrad567/iot-relay/internal/infrastructure/logging"
	"github.com/nerrad567/iot-relay/internal/relay"
	"github.com/nerrad567/iot-relay/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type testEnv struct {
	srv     *Server
	router  http.Handler
	db      *database.DB
	repo    *device.SQLiteRepository
	events  *audit.SQLiteRepository
	relay   *relay.Relay
	tokens  *auth.TokenIssuer
	reg     *prometheus.Registry
	checker *fakeChecker
}

type fakeChecker struct {
	err error
}

func (f *fakeChecker) HealthCheck(context.Context) error { return f.err }

// testServer wires a Server against a real SQLite device store and relay.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	repo := device.NewSQLiteRepository(db.DB)
	events := audit.NewSQLiteRepository(db.DB)
	reg := prometheus.NewRegistry()
	log := logging.Discard()

	r := relay.New(repo, log, relay.NewMetrics(reg))
	r.AddPresenceObserver(relay.NewLastSeenRecorder(repo))
	r.AddPresenceObserver(audit.NewPresenceLog(events))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Shutdown(ctx) //nolint:errcheck // Best effort in cleanup
	})

	tokens := auth.NewTokenIssuer(testSecret, 15*time.Minute)
	optional := &fakeChecker{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			SendBuffer:     16,
			WriteTimeout:   5,
		},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:   log,
		Relay:    r,
		Devices:  repo,
		Tokens:   tokens,
		Events:   events,
		Database: db,
		Optional: map[string]HealthChecker{"mqtt": optional},
		Gatherer: reg,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:     srv,
		router:  srv.buildRouter(),
		db:      db,
		repo:    repo,
		events:  events,
		relay:   r,
		tokens:  tokens,
		reg:     reg,
		checker: optional,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signup(t *testing.T, username, id, password string) {
	t.Helper()
	if err := e.repo.Register(context.Background(), username, id, password); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	env := testServer(t)
	full := Deps{
		Logger:  logging.Discard(),
		Relay:   env.relay,
		Devices: env.repo,
		Tokens:  env.tokens,
	}

	tests := []struct {
		name  string
		strip func(d *Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"relay", func(d *Deps) { d.Relay = nil }},
		{"devices", func(d *Deps) { d.Devices = nil }},
		{"tokens", func(d *Deps) { d.Tokens = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := full
			tt.strip(&d)
			if _, err := New(d); err == nil {
				t.Errorf("New() without %s succeeded", tt.name)
			}
		})
	}

	srv, err := New(full)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.gatherer != prometheus.DefaultGatherer {
		t.Error("gatherer did not default to prometheus.DefaultGatherer")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decodeBody[healthResponse](t, w)
	if resp.Status != "ok" || resp.Version != "test" || resp.Connections != 0 {
		t.Errorf("health = %+v", resp)
	}
	if resp.Checks["database"] != "ok" || resp.Checks["mqtt"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealth_OptionalDegraded(t *testing.T) {
	env := testServer(t)
	env.checker.err = errors.New("broker gone")

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody[healthResponse](t, w)
	if resp.Status != "degraded" || resp.Checks["mqtt"] != "unavailable" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := testServer(t)
	env.db.Close()

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	resp := decodeBody[healthResponse](t, w)
	if resp.Status != "unavailable" || resp.Checks["database"] != "unavailable" {
		t.Errorf("health = %+v", resp)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	w = env.do(t, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodOptions, "/api/v1/devices", "", "Origin", "http://example.com")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != defaultCORSMethods {
		t.Errorf("Allow-Methods = %q, want %q", got, defaultCORSMethods)
	}

	env.srv.cfg.CORS.AllowedOrigins = []string{"http://allowed.example"}
	w = env.do(t, http.MethodOptions, "/api/v1/devices", "", "Origin", "http://example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for disallowed origin = %q, want empty", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := testServer(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeInternal {
		t.Errorf("code = %q", e.Code)
	}
}

func TestRecoveryMiddleware_AfterUpgrade(t *testing.T) {
	env := testServer(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusSwitchingProtocols, hijacked: true}
	h.ServeHTTP(sw, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rec.Body.Len() != 0 {
		t.Errorf("wrote %q to a hijacked connection", rec.Body.String())
	}
	if sw.status != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", sw.status)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := testServer(t)
	huge := `{"username":"` + strings.Repeat("a", maxRequestBodySize) + `"}`

	w := env.do(t, http.MethodPost, "/api/v1/devices", huge)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(req)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "iotrelay_connections_total") {
		t.Error("metrics output missing iotrelay_connections_total")
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	env := testServer(t)
	env.srv.metrics.Enabled = false

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	env := testServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestServer_CloseNotStarted(t *testing.T) {
	env := testServer(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
