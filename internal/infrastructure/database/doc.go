// Package database provides the SQLite connection used by the reader store.
//
// This package manages:
//   - Opening the database file (or an in-memory database) with WAL mode
//   - Embedded, versioned schema migrations
//   - A small transaction helper
//
// All queries elsewhere use parameterised statements. The database file is
// created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a DEFAULT,
// and every .up.sql file ships with its .down.sql counterpart.
package database
