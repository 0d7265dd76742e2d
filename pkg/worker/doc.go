// Package worker consumes the log-processing queue.
//
// A Worker takes the highest-priority waiting job, downloads the uploaded
// file from its signed URL, analyzes it and records the outcome in both the
// queue backend and the relational store. Failed attempts are handed back to
// the queue, which decides between a delayed retry and the failed state.
//
// With housekeeping enabled the worker also promotes due delayed jobs and
// prunes old completed and failed jobs on a cron schedule.
package worker
