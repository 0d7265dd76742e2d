// Package core provides the fundamental types shared by the logqueue packages.
//
// This package contains:
//   - Job, Payload and RetryPolicy describing a queued log-analysis job
//   - JobState values observed from the queue backend
//   - RawStats, the per-job statistics record written by the worker
//   - View and Snapshot, the derived read models served to dashboards
//   - Error, the caller-visible error taxonomy
//
// Most users should import the root package github.com/jdziat/logqueue
// instead of this package directly.
package core
