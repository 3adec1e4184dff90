package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a SQLite-backed device store.
// The devices table must already exist (see migrations).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Verify implements Verifier.
//
// Empty credentials are rejected without touching the store.
func (r *SQLiteRepository) Verify(ctx context.Context, id, password string) (Identity, error) {
	if id == "" || password == "" {
		return Identity{}, ErrUnauthorized
	}

	var username, hash string
	err := r.db.QueryRowContext(ctx,
		"SELECT username, password_hash FROM devices WHERE id = ?", id,
	).Scan(&username, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		burnHash(password)
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: looking up device: %w", ErrStoreUnavailable, err)
	}

	ok, err := CheckPassword(password, hash)
	if err != nil {
		// A corrupt stored hash can never match.
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return Identity{Username: username}, nil
}

// Register creates a device. The password is hashed before it is stored.
func (r *SQLiteRepository) Register(ctx context.Context, username, id, password string) error {
	if err := ValidateSignup(username, id, password); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := r.now().UTC().Format(time.RFC3339)
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO devices (id, username, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, username, hash, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("%w: inserting device: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a device by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at, last_seen_at
		 FROM devices WHERE id = ?`, id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting device: %w", ErrStoreUnavailable, err)
	}
	return d, nil
}

// TouchLastSeen sets last_seen_at for id. Unknown IDs return ErrNotFound.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_seen_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("%w: updating last seen: %w", ErrStoreUnavailable, err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var (
		d                    Device
		createdAt, updatedAt string
		lastSeen             sql.NullString
	)
	if err := s.Scan(&d.ID, &d.Username, &d.PasswordHash, &createdAt, &updatedAt, &lastSeen); err != nil {
		return nil, err
	}

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen_at: %w", err)
		}
		d.LastSeenAt = &t
	}
	return &d, nil
}

// isUniqueViolation checks if a SQLite error is a PRIMARY KEY or UNIQUE
// constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
