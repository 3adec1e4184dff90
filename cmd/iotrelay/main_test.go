package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("IOTRELAY_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("IOTRELAY_CONFIG", "/etc/iotrelay.yaml")
	if got := getConfigPath(); got != "/etc/iotrelay.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/iotrelay.yaml", got)
	}
}

func TestRun_InvalidConfigPath(t *testing.T) {
	t.Setenv("IOTRELAY_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config error", err)
	}
}

func TestRun_MissingJWTSecret(t *testing.T) {
	t.Setenv("IOTRELAY_JWT_SECRET", "")
	t.Setenv("IOTRELAY_CONFIG", writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "relay.db")+`"
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Fatalf("run() error = %v, want jwt secret validation error", err)
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	t.Setenv("IOTRELAY_JWT_SECRET", "")
	t.Setenv("IOTRELAY_CONFIG", writeConfig(t, `
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
api:
  host: "127.0.0.1"
  port: 18931
logging:
  level: error
  format: text
  output: stdout
security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
