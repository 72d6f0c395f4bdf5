// Package storage persists monitored-account records.
//
// Drivers:
//   - "file": snapshot + fsync'd JSON Lines journal, compacted periodically
//   - "sqlite": SQLite database (modernc, pure Go) with embedded migrations
//   - "memory": volatile, for tests and dry runs
//
// Every Upsert/Delete is durable before it returns. ListAll returns records
// in insertion order; an Upsert of an existing id keeps its position.
package storage
