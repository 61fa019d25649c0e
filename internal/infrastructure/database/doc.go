// Package database provides the SQLite store behind the audit trail.
//
// The scheduler itself keeps no state here: rows record what happened
// (events queued, dropped, admitted; actions finished) and are never
// read back to rebuild controller state after a restart.
//
// The pool is pinned to one connection (SQLite's single-writer model)
// with WAL mode so API reads of recent history do not block the
// controller's audit writes. Schema migrations are embedded .up.sql /
// .down.sql pairs applied in version order, each in its own
// transaction.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
