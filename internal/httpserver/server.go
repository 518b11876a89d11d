package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/mdm-webhook/internal/ack"
	"github.com/tinytelemetry/mdm-webhook/internal/model"
)

const (
	defaultAddr            = "0.0.0.0:5001"
	defaultMaxBodyBytes    = 32 * 1024 * 1024
	defaultShutdownTimeout = 5 * time.Second
)

// Recorder persists agent command results.
type Recorder interface {
	Record(ctx context.Context, sub model.Submission) (*model.CommandResult, error)
}

// Aggregator computes the metrics summary on demand.
type Aggregator interface {
	Compute(ctx context.Context) (model.Summary, error)
}

// Reporter logs acknowledgment events. It must not fail.
type Reporter interface {
	Report(ctx context.Context, env ack.Envelope)
}

// Config holds listener and response settings.
type Config struct {
	Addr            string
	Service         string
	Version         string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// Deps are the components the routes dispatch to.
type Deps struct {
	Recorder   Recorder
	Aggregator Aggregator
	Reporter   Reporter
	Logger     *slog.Logger
}

// Server is the HTTP boundary of the webhook receiver.
type Server struct {
	cfg        Config
	recorder   Recorder
	aggregator Aggregator
	reporter   Reporter
	logger     *slog.Logger

	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	serveErr error
}

// NewServer creates the HTTP boundary. Missing config values take defaults.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.Service == "" {
		cfg.Service = model.ServiceName
	}
	if cfg.Version == "" {
		cfg.Version = model.ServiceVersion
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		recorder:   deps.Recorder,
		aggregator: deps.Aggregator,
		reporter:   deps.Reporter,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.logger))
	r.Use(requestID())
	r.Use(accessLog(s.logger))
	r.Use(limitBody(s.cfg.MaxBodyBytes))

	r.POST("/webhook", s.handleWebhook)
	r.POST("/command-result", s.handleCommandResult)
	r.PUT("/command-result", s.handleCommandResult)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.engine,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr = err
			s.logger.Error("httpserver: serve failed", "error", err)
		}
	}()
	return nil
}

// Done is closed when the serve loop exits.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the serve loop's error after Done is closed.
func (s *Server) Err() error {
	<-s.done
	return s.serveErr
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.server == nil {
			s.cancel()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err = s.server.Shutdown(ctx)
		s.cancel()
	})
	return err
}
