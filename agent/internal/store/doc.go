// Package store persists the single latest odometer reading in SQLite
// (modernc.org/sqlite, pure Go) with schema managed by embedded
// golang-migrate migrations.
//
// The table holds at most one row. Credentials are never written.
package store
