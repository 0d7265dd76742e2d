package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/security"
	"github.com/jdziat/logqueue/pkg/stats"
)

// ErrNotFound is returned when a status update targets a missing row.
var ErrNotFound = errors.New("storage: job status not found")

// Open connects to driver ("sqlite" or "postgres") at dsn.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	return db, nil
}

// GormStorage stores job status and statistics rows using GORM.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db, now: time.Now}
}

// Ping checks the database connection.
func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: get underlying *sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("storage: get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&JobStatus{}, &LogStats{})
}

// UpsertJobStatus inserts row or, when its job id exists, overwrites the
// mutable columns.
func (s *GormStorage) UpsertJobStatus(ctx context.Context, row *JobStatus) error {
	if row.Status == "" {
		row.Status = StatusPending
	}
	row.ErrorMessage = security.SanitizeErrorMessage(row.ErrorMessage)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "file_name", "error_message", "updated_at"}),
	}).Create(row).Error
}

// MarkProcessing records that a worker picked up the job.
func (s *GormStorage) MarkProcessing(ctx context.Context, jobID, userID, fileName string) error {
	return s.UpsertJobStatus(ctx, &JobStatus{
		JobID:    jobID,
		UserID:   userID,
		FileName: fileName,
		Status:   StatusProcessing,
	})
}

// MarkCompleted writes the statistics row and the COMPLETED status in one
// transaction.
func (s *GormStorage) MarkCompleted(ctx context.Context, jobID string, raw core.RawStats, processedLines, validEntries int64) error {
	row := &LogStats{
		JobID:             jobID,
		LevelDistribution: datatypes.JSON(stats.EncodeCounts(raw.LevelDistribution)),
		KeywordFrequency:  datatypes.JSON(stats.EncodeCounts(raw.KeywordFrequency)),
		UniqueIPs:         raw.UniqueIPs,
		TopIPs:            datatypes.JSON(stats.EncodeTopIPs(raw.TopIPs)),
		IPOccurrences:     datatypes.JSON(stats.EncodeCounts(raw.IPOccurrences)),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&JobStatus{}).
			Where("job_id = ?", jobID).
			Updates(map[string]any{
				"status":          StatusCompleted,
				"processed_lines": processedLines,
				"valid_entries":   validEntries,
				"error_message":   "",
				"updated_at":      s.now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"level_distribution", "keyword_frequency", "unique_ips", "top_ips", "ip_occurrences",
			}),
		}).Create(row).Error
	})
}

// MarkRetrying records a failed attempt that will be retried.
func (s *GormStorage) MarkRetrying(ctx context.Context, jobID, errMsg string) error {
	return s.setStatus(ctx, jobID, StatusPending, errMsg)
}

// MarkFailed records that the job exhausted its attempts.
func (s *GormStorage) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	return s.setStatus(ctx, jobID, StatusFailed, errMsg)
}

func (s *GormStorage) setStatus(ctx context.Context, jobID string, status Status, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&JobStatus{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"status":        status,
			"error_message": security.SanitizeErrorMessage(errMsg),
			"updated_at":    s.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJobStatus returns the job's row when it belongs to userID, or nil.
func (s *GormStorage) GetJobStatus(ctx context.Context, jobID, userID string) (*JobStatus, error) {
	var row JobStatus
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND user_id = ?", jobID, userID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// OwnsJob reports whether jobID belongs to userID.
func (s *GormStorage) OwnsJob(ctx context.Context, userID, jobID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&JobStatus{}).
		Where("job_id = ? AND user_id = ?", jobID, userID).
		Count(&count).Error
	return count > 0, err
}

// RecentJobs returns the user's most recently created rows.
func (s *GormStorage) RecentJobs(ctx context.Context, userID string, limit int) ([]JobStatus, error) {
	var rows []JobStatus
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// GetStats returns the statistics row for jobID, or nil when none exists.
func (s *GormStorage) GetStats(ctx context.Context, jobID string) (*stats.Record, error) {
	var row LogStats
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec := toRecord(row)
	return &rec, nil
}

// RecentStats returns up to limit statistics rows of the user's jobs,
// newest first.
func (s *GormStorage) RecentStats(ctx context.Context, userID string, limit int) ([]stats.Record, error) {
	var rows []LogStats
	err := s.db.WithContext(ctx).
		Where("job_id IN (?)", s.db.Model(&JobStatus{}).Select("job_id").Where("user_id = ?", userID)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	recs := make([]stats.Record, len(rows))
	for i, row := range rows {
		recs[i] = toRecord(row)
	}
	return recs, nil
}

func toRecord(row LogStats) stats.Record {
	return stats.Record{
		JobID:             row.JobID,
		LevelDistribution: []byte(row.LevelDistribution),
		KeywordFrequency:  []byte(row.KeywordFrequency),
		UniqueIPs:         row.UniqueIPs,
		TopIPs:            []byte(row.TopIPs),
		IPOccurrences:     []byte(row.IPOccurrences),
		CreatedAt:         row.CreatedAt,
	}
}
