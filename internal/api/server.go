package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/timfallmk/node-local-monitor/internal/logging"
	"github.com/timfallmk/node-local-monitor/internal/observability"
)

// Subsystem is the logger name used by the API server.
const Subsystem = "api"

const shutdownTimeout = 5 * time.Second

// Options wires the server to the rest of the daemon.
type Options struct {
	Listen         string
	Monitor        Monitor
	Health         Health
	Resolver       MountResolver
	Metrics        *observability.ApplicationMetrics
	Thresholds     func() observability.Thresholds
	RefreshTimeout time.Duration
	// RefreshRate limits POST /v1/node/refresh. Zero disables the limit.
	RefreshRate rate.Limit
	Logger      *logging.Logger
}

// Server is the operator HTTP endpoint.
type Server struct {
	listen string
	engine *gin.Engine
	logger *logging.Logger
	http   *http.Server
}

func NewServer(opts Options) (*Server, error) {
	if opts.Monitor == nil {
		return nil, errors.New("api server requires a monitor")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Named(Subsystem)
	} else {
		logger = logger.WithComponent(Subsystem)
	}

	thresholds := opts.Thresholds
	if thresholds == nil {
		thresholds = func() observability.Thresholds { return observability.Thresholds{} }
	}

	h := &Handlers{
		monitor:        opts.Monitor,
		health:         opts.Health,
		resolver:       opts.Resolver,
		thresholds:     thresholds,
		refreshTimeout: opts.RefreshTimeout,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger(logger))
	if opts.Metrics != nil {
		engine.Use(RequestMetrics(opts.Metrics))
		h.metrics = opts.Metrics.Collector()
	}
	engine.Use(WireTrace(logging.NewTruncatingLogger(logger, logging.DefaultWireLimit)))

	var refreshMiddleware []gin.HandlerFunc
	if opts.RefreshRate > 0 {
		refreshMiddleware = append(refreshMiddleware, RateLimit(rate.NewLimiter(opts.RefreshRate, 1)))
	}

	RegisterRoutes(engine, h, refreshMiddleware...)

	return &Server{
		listen: opts.Listen,
		engine: engine,
		logger: logger,
	}, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "address", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
