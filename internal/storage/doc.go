// Package storage persists everything outreach must keep across restarts:
//   - job status records with a sliding expiry
//   - queued job records (for resume after a crash)
//   - the per-recipient send ledger
//   - the message log of successful sends
//
// Drivers: memory, sqlite (modernc, pure Go) and postgres (pgx).
package storage
