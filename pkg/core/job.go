package core

import (
	"time"
)

// JobName is the type tag carried by every log-analysis job.
const JobName = "process-log-file"

// JobState is the queue-backend state of a job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateDelayed   JobState = "delayed"
	StateUnknown   JobState = "unknown" // No longer present in any state set
)

// States lists the five observable queue states in display order.
var States = []JobState{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed}

// Valid reports whether s is one of the five observable states.
func (s JobState) Valid() bool {
	for _, st := range States {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// BackoffType selects how the delay between attempts grows.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the delay policy applied after a failed attempt.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// RetryPolicy controls how many times the backend runs a job.
type RetryPolicy struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff: Backoff{
			Type:  BackoffExponential,
			Delay: 5000 * time.Millisecond,
		},
	}
}

// DelayFor returns the wait before the next run after attemptsMade failures.
func (p RetryPolicy) DelayFor(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if p.Backoff.Type != BackoffExponential {
		return p.Backoff.Delay
	}
	shift := attemptsMade - 1
	if shift > 30 {
		shift = 30
	}
	return p.Backoff.Delay * time.Duration(1<<shift)
}

// Payload is the data a log-analysis job carries to the worker.
type Payload struct {
	FileURL          string `json:"fileUrl"`
	StoragePath      string `json:"storagePath"`
	BucketName       string `json:"bucketName"`
	OriginalFilename string `json:"originalFilename"`
	UserID           string `json:"userId"`
	Email            string `json:"email"`
	FileSize         int64  `json:"fileSize"`
}

// Job is a queued unit of work as stored by the queue backend.
type Job struct {
	ID           string
	Name         string
	Payload      Payload
	Priority     int
	Retry        RetryPolicy
	AttemptsMade int
	FailedReason string
	Timestamp    time.Time // Submission time
	ProcessedOn  *time.Time
	FinishedOn   *time.Time
	State        JobState
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID string
}

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	UserID string
	Email  string
}
