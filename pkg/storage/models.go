package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the processing status recorded for a job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// JobStatus is one row of job_status, owned by the uploading user.
type JobStatus struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	JobID          string    `gorm:"column:job_id;uniqueIndex;size:64;not null" json:"jobId"`
	UserID         string    `gorm:"column:user_id;index;size:255;not null" json:"userId"`
	FileName       string    `gorm:"column:file_name;size:255" json:"fileName"`
	Status         Status    `gorm:"column:status;size:20;not null;default:PENDING" json:"status"`
	ProcessedLines int64     `gorm:"column:processed_lines" json:"processedLines"`
	ValidEntries   int64     `gorm:"column:valid_entries" json:"validEntries"`
	ErrorMessage   string    `gorm:"column:error_message;type:text" json:"errorMessage,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;index" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName returns the table name for GORM.
func (JobStatus) TableName() string {
	return "job_status"
}

// LogStats is one row of log_stats, written once when a job completes.
type LogStats struct {
	ID                uint           `gorm:"primaryKey"`
	JobID             string         `gorm:"column:job_id;uniqueIndex;size:64;not null"`
	LevelDistribution datatypes.JSON `gorm:"column:level_distribution"`
	KeywordFrequency  datatypes.JSON `gorm:"column:keyword_frequency"`
	UniqueIPs         int64          `gorm:"column:unique_ips"`
	TopIPs            datatypes.JSON `gorm:"column:top_ips"`
	IPOccurrences     datatypes.JSON `gorm:"column:ip_occurrences"`
	CreatedAt         time.Time      `gorm:"column:created_at;index"`
}

// TableName returns the table name for GORM.
func (LogStats) TableName() string {
	return "log_stats"
}
