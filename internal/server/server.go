package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"todo-proj/internal/store"
	"todo-proj/internal/task"
	"todo-proj/pkg/cache"
	"todo-proj/pkg/mq"
)

// Service is the task surface the HTTP layer drives.
type Service interface {
	List(ctx context.Context) ([]store.Task, error)
	Get(ctx context.Context, id int64) (*store.Task, error)
	Create(ctx context.Context, in task.CreateInput) (*store.Task, error)
	Update(ctx context.Context, id int64, in task.UpdateInput) (*store.Task, error)
	Delete(ctx context.Context, id int64) error
	ClearCompleted(ctx context.Context) (int64, error)
	Reorder(ctx context.Context, ids []int64) error
}

type Options struct {
	Logger *log.Logger
	// Deduper enables the Idempotency-Key header on POST /api/todos.
	Deduper cache.Deduper
	// Events feeds GET /api/todos/events from EventTopic.
	Events     mq.Subscriber
	EventTopic string
	// StaticDir is served at / when set.
	StaticDir string
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

type Server struct {
	e    *echo.Echo
	svc  Service
	opts Options
	log  *log.Logger
}

func New(svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.EventTopic == "" {
		opts.EventTopic = "todos"
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}

	s := &Server{e: e, svc: svc, opts: opts, log: opts.Logger}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(s.log))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.e
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	g := e.Group("/api/todos")
	g.GET("", s.listTodos)
	g.POST("", s.createTodo, idempotency(s.opts.Deduper, s.log))
	g.GET("/export", s.exportTodos)
	g.GET("/events", s.streamEvents)
	g.PUT("/reorder", s.reorderTodos)
	g.DELETE("/completed", s.clearCompleted)
	g.GET("/:id", s.getTodo)
	g.PUT("/:id", s.updateTodo)
	g.DELETE("/:id", s.deleteTodo)

	if s.opts.StaticDir != "" {
		e.Static("/", s.opts.StaticDir)
	}
}

func (s *Server) Handler() http.Handler { return s.e }

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.e.Shutdown(shutdownCtx)
	}()
	s.log.WithField("addr", addr).Info("http server listening")
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
