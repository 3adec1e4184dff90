// Package database provides SQLite connectivity for the device store.
//
// It manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying embedded, versioned schema migrations
//   - Health checks used by the API and by credential verification
//
// The file holds Argon2id password hashes and is created with 0600
// permissions. All queries use parameterised statements.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
