// Package httpapi exposes the scheduler over HTTP: manual triggers, job
// listing, a health check and the basic-auth protected dashboard data.
package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"jobhost/internal/errors"
	"jobhost/internal/storage"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
	logx "jobhost/pkg/logx"
)

const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultRateWindow      = time.Minute
	DefaultShutdownTimeout = 5 * time.Second
	DefaultHistoryLimit    = 50
)

// Scheduler is the subset of *scheduler.Scheduler the handlers use.
type Scheduler interface {
	IsStarted() bool
	Start(ctx context.Context) error
	TriggerJob(ctx context.Context, k job.Key, data job.Data) error
	GetJobDetail(k job.Key) (job.Detail, bool)
	ListJobKeys(group string) []job.Key
	Snapshot() scheduler.Snapshot
}

// HistorySource serves persisted executions, newest first.
type HistorySource interface {
	RecentExecutions(ctx context.Context, limit int) ([]storage.ExecutionRecord, error)
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RequestID    bool

	// RateLimitMax caps requests per client IP on /api within
	// RateLimitWindow. 0 disables the limiter.
	RateLimitMax    int
	RateLimitWindow time.Duration

	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = DefaultRateWindow
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	return c
}

// Deps are the collaborators the server is built from.
type Deps struct {
	Scheduler Scheduler
	// History is optional; without it the dashboard shows the engine's
	// in-memory history.
	History HistorySource
	// Credentials is called per request so reloaded values take effect.
	Credentials func() (user, pass string)
	Log         logx.Logger
}

type Server struct {
	app   *fiber.App
	cfg   Config
	sched Scheduler
	hist  HistorySource
	creds func() (string, string)
	log   logx.Logger
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Scheduler == nil {
		return nil, errors.InvalidArgumentf("httpapi: scheduler is required")
	}
	if deps.Credentials == nil {
		return nil, errors.InvalidArgumentf("httpapi: credentials are required")
	}
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &Server{
		cfg:   cfg,
		sched: deps.Scheduler,
		hist:  deps.History,
		creds: deps.Credentials,
		log:   log,
	}
	s.app = fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) routes() {
	s.app.Use(recover.New())
	if s.cfg.RequestID {
		s.app.Use(requestid.New())
	}

	s.app.Get("/", func(c *fiber.Ctx) error { return c.Redirect("/quartz", fiber.StatusFound) })
	s.app.Get("/health", s.health)

	api := s.app.Group("/api")
	if s.cfg.RateLimitMax > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:        s.cfg.RateLimitMax,
			Expiration: s.cfg.RateLimitWindow,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
			},
		}))
	}
	jobs := api.Group("/jobs")
	jobs.Post("/trigger/:name/:group", s.triggerJob)
	jobs.Get("/list", s.listJobs)

	s.app.Get("/quartz", s.basicAuth(), s.dashboard)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(s.cfg.Addr) }()
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrapf(err, "http listen %s", s.cfg.Addr)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(sctx); err != nil {
		s.log.Warn("http shutdown error", logx.Err(err))
	}
	<-errCh
	s.log.Info("http server stopped")
	return nil
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("http handler error",
			logx.String("method", c.Method()),
			logx.String("path", c.Path()),
			logx.Err(err),
		)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
