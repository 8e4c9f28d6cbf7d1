// Package database provides the SQLite database behind session persistence.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Embedded, additive-only schema migrations
//   - Health checks for startup verification
//
// The only consumer today is the in-flight packet store (package store),
// which keeps unacknowledged QoS 1/2 packets across restarts.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 (packets may carry sensitive payloads)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/session.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
