// Package dispatch turns an authenticated upload into a stored object and a
// queued analysis job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jdziat/logqueue/pkg/auth"
	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/priority"
	"github.com/jdziat/logqueue/pkg/queue"
	"github.com/jdziat/logqueue/pkg/security"
)

// ObjectStore persists uploaded payloads.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string, overwrite bool) error
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
}

// Enqueuer adds jobs to the queue backend.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload core.Payload, opts ...queue.Option) (core.JobHandle, error)
}

// Upload is a file received from a caller. Body is streamed to the object
// store and never buffered whole; the caller closes it after Submit returns.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64 // Declared length of Body in bytes
	Body        io.Reader
}

// Result identifies a successful submission.
type Result struct {
	StoragePath string
	JobID       string
}

// Config configures a Service.
type Config struct {
	Bucket        string        // Default "log-files"
	PathPrefix    string        // Default "user-uploads"
	URLTTL        time.Duration // Lifetime of the worker's download URL, default 1h
	MaxUploadSize int64         // Default security.MaxUploadSize

	// RetryPolicy, when set, is sent with every job. When nil the queue
	// connector's default policy applies.
	RetryPolicy *core.RetryPolicy

	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Bucket == "" {
		c.Bucket = "log-files"
	}
	if c.PathPrefix == "" {
		c.PathPrefix = "user-uploads"
	}
	if c.URLTTL <= 0 {
		c.URLTTL = time.Hour
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = security.MaxUploadSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service runs submissions. It holds no per-call state and is safe for
// concurrent use.
type Service struct {
	authn auth.Authenticator
	store ObjectStore
	queue Enqueuer
	cfg   Config
}

// New creates a Service.
func New(authn auth.Authenticator, store ObjectStore, q Enqueuer, cfg Config) *Service {
	return &Service{authn: authn, store: store, queue: q, cfg: cfg.withDefaults()}
}

// Submit authenticates the caller, stores the file and enqueues its
// analysis. Either a job id is returned or a *core.Error; no step is
// retried. When the enqueue fails after the upload succeeded the stored
// object is left in place and logged.
func (s *Service) Submit(ctx context.Context, credential string, file *Upload) (Result, error) {
	if credential == "" {
		return Result{}, core.E(core.KindUnauthorized, "dispatch.auth", "Unauthorized", core.ErrMissingCredential)
	}
	user, err := s.authn.Authenticate(ctx, credential)
	if err != nil {
		return Result{}, core.E(core.KindUnauthorized, "dispatch.auth", "Unauthorized", err)
	}

	if file == nil {
		return Result{}, core.E(core.KindBadRequest, "dispatch.validate", "", core.ErrMissingFile)
	}
	name, err := security.SanitizeFilename(file.Filename)
	if err != nil {
		return Result{}, core.E(core.KindBadRequest, "dispatch.validate", "", err)
	}
	size := file.Size
	if size < 0 || size > s.cfg.MaxUploadSize {
		return Result{}, core.E(core.KindBadRequest, "dispatch.validate", "", core.ErrFileTooLarge)
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	storagePath := fmt.Sprintf("%s/%s/%d-%s", s.cfg.PathPrefix, user.UserID, s.cfg.Now().UnixMilli(), name)
	body := &sizedReader{r: file.Body, remaining: size}
	if err := s.store.Upload(ctx, s.cfg.Bucket, storagePath, body, contentType, false); err != nil {
		if errors.Is(err, core.ErrFileTooLarge) {
			return Result{}, core.E(core.KindBadRequest, "dispatch.upload", "", core.ErrFileTooLarge)
		}
		return Result{}, core.E(core.KindStorage, "dispatch.upload", "Storage upload failed", err)
	}

	url, err := s.store.SignedURL(ctx, s.cfg.Bucket, storagePath, s.cfg.URLTTL)
	if err != nil {
		return Result{}, core.E(core.KindStorage, "dispatch.sign", "Failed to get signed URL for uploaded file", err)
	}
	if url == "" {
		return Result{}, core.E(core.KindStorage, "dispatch.sign", "Failed to get signed URL for uploaded file", nil)
	}

	opts := []queue.Option{queue.WithPriority(priority.Classify(size))}
	if s.cfg.RetryPolicy != nil {
		opts = append(opts, queue.WithRetryPolicy(*s.cfg.RetryPolicy))
	}
	handle, err := s.queue.Enqueue(ctx, core.JobName, core.Payload{
		FileURL:          url,
		StoragePath:      storagePath,
		BucketName:       s.cfg.Bucket,
		OriginalFilename: name,
		UserID:           user.UserID,
		Email:            user.Email,
		FileSize:         size,
	}, opts...)
	if err != nil {
		s.cfg.Logger.Warn("stored upload was not queued",
			"storage_path", storagePath, "user_id", user.UserID, "error", err)
		return Result{}, core.E(core.KindQueue, "dispatch.enqueue", "Failed to queue job", err)
	}

	s.cfg.Logger.Info("upload queued",
		"job_id", handle.ID, "storage_path", storagePath, "size", size)
	return Result{StoragePath: storagePath, JobID: handle.ID}, nil
}

// sizedReader fails with core.ErrFileTooLarge once a body yields more bytes
// than it declared, so the declared size used for priority stays truthful.
type sizedReader struct {
	r         io.Reader
	remaining int64
}

func (s *sizedReader) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, io.EOF
	}
	if s.remaining <= 0 {
		// One more byte tells a clean end from excess input.
		var extra [1]byte
		n, err := s.r.Read(extra[:])
		if n > 0 {
			return 0, core.ErrFileTooLarge
		}
		if err == nil {
			return 0, nil
		}
		return 0, err
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.r.Read(p)
	s.remaining -= int64(n)
	return n, err
}
