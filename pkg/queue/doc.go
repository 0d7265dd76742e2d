// Package queue provides the Redis-backed job queue connector.
//
// This package includes:
//   - Connector: owns the single Redis client of the process and exposes
//     enqueue, state counts, listings and per-job state lookups
//   - Option: per-call enqueue options (priority, retry policy, delay)
//   - Worker-side transitions (Take, Complete, Fail, PromoteDelayed, Clean)
//
// Every state transition runs as one Lua script so that concurrent
// processes sharing the backend observe a job in exactly one state set.
//
// Key layout under "<prefix>:<name>:":
//
//	id            INCR counter issuing job ids
//	job:<id>      hash holding the job record
//	waiting       zset, score = ms time the job entered the state
//	active        zset, same scoring
//	completed     zset, same scoring
//	failed        zset, same scoring
//	delayed       zset, same scoring
//	prioritized   zset, score = priority<<32 + id, ordering waiting jobs
//	schedule      zset, score = ms time a delayed job becomes due
package queue
