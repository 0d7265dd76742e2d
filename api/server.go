// Package api is the HTTP surface of logqueue.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jdziat/logqueue/pkg/auth"
	"github.com/jdziat/logqueue/pkg/core"
	"github.com/jdziat/logqueue/pkg/dispatch"
	"github.com/jdziat/logqueue/pkg/limiter"
	"github.com/jdziat/logqueue/pkg/objstore"
	"github.com/jdziat/logqueue/pkg/storage"
)

// DashboardLimit is the number of job rows the dashboard lists.
const DashboardLimit = 10

// Submitter accepts uploads.
type Submitter interface {
	Submit(ctx context.Context, credential string, file *dispatch.Upload) (dispatch.Result, error)
}

// Snapshotter reads the live queue.
type Snapshotter interface {
	Snapshot(ctx context.Context) (core.Snapshot, error)
}

// StatsReader serves statistics views.
type StatsReader interface {
	ForJob(ctx context.Context, userID, jobID string) (core.View, error)
	Overview(ctx context.Context, userID string) (core.View, error)
}

// JobLister lists a user's job status rows.
type JobLister interface {
	RecentJobs(ctx context.Context, userID string, limit int) ([]storage.JobStatus, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API is built on. Limiter and Objects may be nil.
type Deps struct {
	Auth      auth.Authenticator
	Dispatch  Submitter
	Snapshots Snapshotter
	Stats     StatsReader
	Jobs      JobLister
	Limiter   *limiter.Limiter
	Objects   http.Handler
	Health    map[string]Pinger
}

// Server provides the HTTP API.
type Server struct {
	addr      string
	deps      Deps
	cfg       config
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	upgrader  websocket.Upgrader
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps, opts ...Option) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.checkOrigin,
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	// Larger parts spool to a temporary file, so uploads are never held in memory whole.
	r.MaxMultipartMemory = 8 << 20

	r.GET("/api/health", s.handleHealth)
	r.POST("/api/upload-logs", s.handleUpload)

	authed := r.Group("/api", s.requireAuth)
	authed.GET("/queue-status", s.handleQueueStats)
	authed.GET("/queue-stats", s.limit(s.handleQueueStats))
	authed.GET("/queue-stats/stream", s.limit(s.handleQueueStream))
	authed.GET("/stats", s.limit(s.handleStats))
	authed.GET("/dashboard", s.limit(s.handleDashboard))

	if s.deps.Objects != nil {
		r.GET(objstore.RoutePrefix+"*path", gin.WrapH(s.deps.Objects))
		r.HEAD(objstore.RoutePrefix+"*path", gin.WrapH(s.deps.Objects))
	}
	return r
}

func (s *Server) limit(h gin.HandlerFunc) gin.HandlerFunc {
	if s.deps.Limiter == nil {
		return h
	}
	return s.deps.Limiter.Guard(h)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()
	s.cfg.logger.Info("http server listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.cfg.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server. Open streams are closed by
// cancelling the base context.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// writeError writes {error, code} with the status of err's kind.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status := core.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.cfg.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": kind})
}

