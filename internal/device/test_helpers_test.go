package device

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/iot-relay/internal/infrastructure/config"
	"github.com/nerrad567/iot-relay/internal/infrastructure/database"
	"github.com/nerrad567/iot-relay/migrations"
)

// testDB opens a temp-file SQLite database with the real migrations applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
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
	return db
}

// testRepo returns a repository over a fresh database with cheap hashing.
func testRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	fastHashing(t)
	db := testDB(t)
	return NewSQLiteRepository(db.DB), db.DB
}

// fastHashing lowers the Argon2id cost for the duration of a test.
func fastHashing(t *testing.T) {
	t.Helper()
	saved := hashParams
	hashParams.time = 1
	hashParams.memory = 1024
	t.Cleanup(func() { hashParams = saved })
}
