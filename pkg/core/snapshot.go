package core

import "time"

// StateCounts holds the number of jobs in each queue state.
type StateCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Set stores n under state; unknown states are ignored.
func (c *StateCounts) Set(state JobState, n int64) {
	switch state {
	case StateWaiting:
		c.Waiting = n
	case StateActive:
		c.Active = n
	case StateCompleted:
		c.Completed = n
	case StateFailed:
		c.Failed = n
	case StateDelayed:
		c.Delayed = n
	}
}

// JobData is the subset of a payload shown on dashboards.
type JobData struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	UserID   string `json:"userId"`
}

// JobSummary is a listed job annotated with its live state.
type JobSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	State     JobState `json:"state"`
	Priority  int      `json:"priority"`
	Data      JobData  `json:"data"`
	Timestamp int64    `json:"timestamp"` // Submission time in unix milliseconds
}

// Summarize converts a job into its dashboard form with the given live state.
func Summarize(j *Job, state JobState) JobSummary {
	return JobSummary{
		ID:       j.ID,
		Name:     j.Name,
		State:    state,
		Priority: j.Priority,
		Data: JobData{
			FileName: j.Payload.OriginalFilename,
			FileSize: j.Payload.FileSize,
			UserID:   j.Payload.UserID,
		},
		Timestamp: j.Timestamp.UnixMilli(),
	}
}

// Snapshot is a point-in-time read of the queue.
type Snapshot struct {
	Counts       StateCounts  `json:"counts"`
	PriorityJobs []JobSummary `json:"priorityJobs"`
	RecentJobs   []JobSummary `json:"recentJobs"`
	TakenAt      time.Time    `json:"-"`
}
