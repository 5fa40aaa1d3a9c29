// Package storage persists the activity log.
//
// It currently supports:
//   - Hourly activity records (one per hour marker, upsert semantics)
//   - Daily free-text notes
//   - Small key/value settings
//
// Two drivers are available: an embedded SQLite database (default) and a
// dependency-free JSONL file backend.
package storage
