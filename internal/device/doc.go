// Package device stores device identities and verifies their credentials.
//
// A device is a record mapping an identifier to an owner username and an
// Argon2id password hash. The relay consults it once per registration
// attempt through the Verifier interface; the HTTP signup endpoint creates
// records through Register.
//
// Verify keeps two failure kinds apart:
//
//   - ErrUnauthorized: unknown identifier or wrong password. Callers cannot
//     tell the two apart, and both paths cost one Argon2id computation.
//   - ErrStoreUnavailable: the database could not answer. This is never
//     reported to a client as a bad password.
//
// Usage:
//
//	repo := device.NewSQLiteRepository(db.DB)
//	if err := repo.Register(ctx, "alice", "esp1", "p1"); err != nil {
//	    return err
//	}
//	ident, err := repo.Verify(ctx, "esp1", "p1")
package device
