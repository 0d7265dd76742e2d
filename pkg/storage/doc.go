// Package storage persists job status rows and per-job statistics rows.
//
// This package includes:
//   - GormStorage: a GORM implementation over SQLite or PostgreSQL
//   - JobStatus and LogStats: the job_status and log_stats tables
//   - Pool options for the underlying *sql.DB
//
// GormStorage satisfies stats.Store, so the statistics service reads
// through it directly.
package storage
