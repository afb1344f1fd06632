// Package storage persists medications and the dose journal.
//
// Backends share one Store interface:
//   - memory and file (map plus JSON snapshot and JSONL journal)
//   - sqlite (modernc, pure Go)
//   - postgres (pgx), compatible with an existing medications table
//
// CommitDose is the only path that writes last_notification_sent, and it is
// a compare-and-set on quantity_left.
package storage
