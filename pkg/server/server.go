// Package server provides rosterd, the reference agents REST resource
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rizome-dev/roster/pkg/config"
	"github.com/rizome-dev/roster/pkg/middleware"
	"github.com/rizome-dev/roster/pkg/monitoring"
)

// AgentsServiceName is the gRPC health service reporting the repository
const AgentsServiceName = "roster.agents"

// Server runs the agents HTTP API and the optional gRPC health endpoint
type Server struct {
	config  config.ServerConfig
	metrics config.MetricsConfig

	repo         *Repository
	monitor      *monitoring.Monitor
	limiter      *middleware.RateLimiter
	logger       zerolog.Logger
	handler      http.Handler
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	httpListener net.Listener
	grpcListener net.Listener

	// Server state
	running      bool
	mu           sync.RWMutex
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer wires the handlers, middleware chain and health reporting over
// repo. monitor may be nil.
func NewServer(cfg *config.Config, repo *Repository, monitor *monitoring.Monitor, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}

	s := &Server{
		config:       cfg.Server,
		metrics:      cfg.Monitoring.Metrics,
		repo:         repo,
		monitor:      monitor,
		logger:       logger.With().Str("component", "server").Logger(),
		healthServer: health.NewServer(),
		shutdownChan: make(chan struct{}),
	}

	s.limiter = middleware.NewRateLimiter(cfg.Security.RateLimit)
	s.limiter.OnLimited = monitor.RecordRateLimited

	if monitor != nil {
		monitor.RegisterHealthCheck(snapshotCheck{repo: repo})
	}

	s.handler = s.buildHandler()
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.HTTP.ReadTimeout,
		WriteTimeout:   s.config.HTTP.WriteTimeout,
		IdleTimeout:    s.config.HTTP.IdleTimeout,
		MaxHeaderBytes: s.config.HTTP.MaxHeaderBytes,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	NewAPI(s.repo, s.logger).Register(mux)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.metrics.Enabled && s.monitor != nil {
		path := s.metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.monitor.Handler())
	}

	chain := []middleware.Middleware{
		middleware.Recover(s.logger),
		middleware.RequestID,
		middleware.AccessLog(s.logger),
		s.monitor.InstrumentHandler,
		tracing(s.monitor),
	}
	if s.config.HTTP.CORSEnabled {
		chain = append(chain, middleware.CORS(s.config.HTTP.CORSAllowedOrigins))
	}
	chain = append(chain, s.limiter.HTTP)

	return middleware.Chain(mux, chain...)
}

// Start begins serving. Listeners are bound before Start returns.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	s.logger.Info().Msg("Starting roster server")

	if s.config.GRPC.Enabled {
		if err := s.startGRPCServer(); err != nil {
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	if err := s.startHTTPServer(); err != nil {
		s.stopGRPCServer()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.performHealthCheck()
	if s.config.HealthCheckInterval > 0 {
		s.wg.Add(1)
		go s.startHealthMonitoring()
	}

	s.running = true

	s.logger.Info().
		Str("http_address", s.HTTPAddr()).
		Bool("grpc_enabled", s.config.GRPC.Enabled).
		Msg("Roster server started")

	return nil
}

// Stop gracefully shuts the server down within the configured timeout
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info().Msg("Shutting down roster server")

	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	s.healthServer.Shutdown()
	s.limiter.Stop()

	shutdownCtx := ctx
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.stopGRPCServer()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			errChan <- fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}()

	wg.Wait()
	s.wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		s.logger.Error().Err(err).Msg("Shutdown error")
		errs = append(errs, err)
	}

	s.running = false
	s.logger.Info().Msg("Roster server shut down")
	return errors.Join(errs...)
}

// WaitForShutdown blocks until a termination signal arrives, ctx is done or
// the server is stopped
func (s *Server) WaitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		s.logger.Info().Msg("Context cancelled")
	case <-s.shutdownChan:
		s.logger.Info().Msg("Received internal shutdown signal")
	}
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// HTTPAddr returns the bound HTTP address, or the configured one before Start
func (s *Server) HTTPAddr() string {
	if s.httpListener != nil {
		return s.httpListener.Addr().String()
	}
	return net.JoinHostPort(s.config.HTTP.Host, strconv.Itoa(s.config.HTTP.Port))
}

// GRPCAddr returns the bound gRPC address, or the configured one before Start
func (s *Server) GRPCAddr() string {
	if s.grpcListener != nil {
		return s.grpcListener.Addr().String()
	}
	return net.JoinHostPort(s.config.GRPC.Host, strconv.Itoa(s.config.GRPC.Port))
}

// HealthServer exposes the gRPC health service for in-process checks
func (s *Server) HealthServer() *health.Server {
	return s.healthServer
}

func (s *Server) startGRPCServer() error {
	address := net.JoinHostPort(s.config.GRPC.Host, strconv.Itoa(s.config.GRPC.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.grpcListener = listener

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.limiter.UnaryServerInterceptor))
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	if s.config.GRPC.ReflectionEnabled {
		reflection.Register(s.grpcServer)
	}

	go func() {
		s.logger.Info().Str("address", listener.Addr().String()).Msg("gRPC server starting")
		if err := s.grpcServer.Serve(listener); err != nil {
			s.logger.Error().Err(err).Msg("gRPC server error")
		}
	}()

	return nil
}

func (s *Server) startHTTPServer() error {
	address := net.JoinHostPort(s.config.HTTP.Host, strconv.Itoa(s.config.HTTP.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.httpListener = listener

	go func() {
		s.logger.Info().Str("address", listener.Addr().String()).Msg("HTTP server starting")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

func (s *Server) stopGRPCServer() {
	if s.grpcServer == nil {
		return
	}

	s.logger.Info().Msg("Stopping gRPC server")

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	select {
	case <-done:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn().Msg("gRPC server graceful stop timeout, forcing stop")
		s.grpcServer.Stop()
	}
}

func (s *Server) startHealthMonitoring() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.shutdownChan:
			return
		}
	}
}

// performHealthCheck mirrors the snapshot health into the gRPC health service
func (s *Server) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := s.repo.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Snapshot health check failed")
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}

	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(AgentsServiceName, status)
	s.monitor.SetAgentsTotal(s.repo.Len())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.handleReady(w, r)
		return
	}

	status := s.monitor.GetHealthStatus(r.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// snapshotCheck reports the repository's snapshot backend to the monitor
type snapshotCheck struct {
	repo *Repository
}

func (c snapshotCheck) Name() string { return "snapshot" }

func (c snapshotCheck) Check(ctx context.Context) error {
	return c.repo.HealthCheck(ctx)
}

// tracing continues the caller's trace and wraps each request in a span
// named after the matched route
func tracing(monitor *monitoring.Monitor) middleware.Middleware {
	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := monitor.StartSpan(ctx, "rosterd "+r.Method,
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			)
			defer span.End()

			req := r.WithContext(ctx)
			next.ServeHTTP(w, req)

			if req.Pattern != "" {
				span.SetName("rosterd " + req.Pattern)
				span.SetAttributes(attribute.String("http.route", req.Pattern))
			}
		})
	}
}
