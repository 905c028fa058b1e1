// Package storage persists fetched profile entries so the profile cache
// starts warm after a restart.
//
// Drivers:
//   - "file": JSON snapshot plus append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Delivery queue contents are never stored.
package storage
