package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/logqueue/pkg/auth"
	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/dispatch"
	"github.com/jdziat/logqueue/pkg/security"
)

const identityKey = "logqueue.identity"

// UploadMessage is returned on a successful upload.
const UploadMessage = "File uploaded and queued for processing"

// requireAuth resolves the bearer credential and stores the identity on the
// context. Missing or rejected credentials get 401.
func (s *Server) requireAuth(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		s.writeError(c, core.E(core.KindUnauthorized, "api.auth", "Unauthorized", err))
		return
	}
	id, err := s.deps.Auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		s.writeError(c, core.E(core.KindUnauthorized, "api.auth", "Unauthorized", err))
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func identity(c *gin.Context) core.Identity {
	id, _ := c.Get(identityKey)
	ident, _ := id.(core.Identity)
	return ident
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status, code := "ok", http.StatusOK
	for name, p := range s.deps.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status": status,
		"uptime": time.Since(s.startTime).String(),
		"checks": checks,
	})
}

// handleUpload passes the credential through to dispatch, which owns the
// authentication step of a submission.
func (s *Server) handleUpload(c *gin.Context) {
	token, _ := auth.BearerToken(c.GetHeader("Authorization"))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, security.MaxUploadSize+(1<<20))
	upload, file, err := readUpload(c)
	if err != nil {
		// A malformed body must not reveal more to an anonymous caller than
		// a missing credential would.
		if _, authErr := s.authenticate(c.Request.Context(), token); authErr != nil {
			s.writeError(c, authErr)
			return
		}
		s.writeError(c, err)
		return
	}
	if file != nil {
		defer file.Close()
	}

	res, err := s.deps.Dispatch.Submit(c.Request.Context(), token, upload)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  UploadMessage,
		"filePath": res.StoragePath,
		"jobId":    res.JobID,
	})
}

func (s *Server) authenticate(ctx context.Context, token string) (core.Identity, error) {
	if token == "" {
		return core.Identity{}, core.E(core.KindUnauthorized, "api.auth", "Unauthorized", core.ErrMissingCredential)
	}
	id, err := s.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		return core.Identity{}, core.E(core.KindUnauthorized, "api.auth", "Unauthorized", err)
	}
	return id, nil
}

// readUpload opens the "file" form part, or returns nil when none was sent.
// The caller closes the returned file once the upload is consumed.
func readUpload(c *gin.Context) (*dispatch.Upload, io.Closer, error) {
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil, nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, nil, core.E(core.KindBadRequest, "api.upload", "", core.ErrFileTooLarge)
	}
	if err != nil {
		return nil, nil, core.E(core.KindBadRequest, "api.upload", "Invalid multipart body", err)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, core.E(core.KindBadRequest, "api.upload", "Invalid multipart body", err)
	}
	return &dispatch.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	}, f, nil
}

func (s *Server) handleQueueStats(c *gin.Context) {
	snap, err := s.deps.Snapshots.Snapshot(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStats(c *gin.Context) {
	user := identity(c)
	var (
		view core.View
		err  error
	)
	if jobID := c.Query("jobId"); jobID != "" {
		view, err = s.deps.Stats.ForJob(c.Request.Context(), user.UserID, jobID)
	} else {
		view, err = s.deps.Stats.Overview(c.Request.Context(), user.UserID)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDashboard(c *gin.Context) {
	jobs, err := s.deps.Jobs.RecentJobs(c.Request.Context(), identity(c).UserID, DashboardLimit)
	if err != nil {
		s.writeError(c, core.E(core.KindStorage, "api.dashboard", "Error fetching jobs", err))
		return
	}
	c.JSON(http.StatusOK, jobs)
}
