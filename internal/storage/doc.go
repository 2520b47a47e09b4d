// Package storage persists the task list, the runtime settings KV and the
// notification log.
//
// Drivers:
//   - "sqlite": a single database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local maps, used by tests and dry runs
package storage
