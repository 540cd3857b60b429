// ABOUTME: Server orchestrator that wires config, ledger, supervisor, and HTTP/gRPC listeners
// ABOUTME: Runs everything under one errgroup and performs the cleanup-on-exit shutdown hook

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/ephemera/internal/api"
	"github.com/2389/ephemera/internal/auth"
	"github.com/2389/ephemera/internal/config"
	"github.com/2389/ephemera/internal/dedupe"
	"github.com/2389/ephemera/internal/reaper"
	"github.com/2389/ephemera/internal/store"
	"github.com/2389/ephemera/internal/supervisor"
)

// HealthService is the gRPC health service name reporting the reclamation timer.
const HealthService = "ephemera.Supervisor"

const pruneInterval = time.Hour

// Server owns the supervisor and the listeners exposing it.
type Server struct {
	config     *config.Config
	supervisor *supervisor.Supervisor
	ledger     store.Ledger
	dedupe     *dedupe.Cache
	echo       *echo.Echo
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// initLedger opens the lifecycle ledger. An empty path disables it.
func initLedger(cfg *config.Config) (store.Ledger, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("EPHEMERA_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}
	return s, nil
}

// createGRPCServer creates the health-only gRPC server.
func createGRPCServer(hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// EntryPointEnv tells a spawned exec subcommand which symbol to invoke.
const EntryPointEnv = "EPHEMERA_ENTRY_POINT"

// childEnv returns the environment additions for spawned agents.
func childEnv(cfg config.ExecutorConfig) []string {
	env := append([]string(nil), cfg.Env...)
	if cfg.EntryPoint != "" {
		env = append(env, EntryPointEnv+"="+cfg.EntryPoint)
	}
	return env
}

// servingStatus maps the timer state onto a health status.
func servingStatus(state reaper.State) healthpb.HealthCheckResponse_ServingStatus {
	if state == reaper.Idle {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// newEcho builds the router with recovery, request logging, and optional auth.
func newEcho(cfg *config.Config, handler *api.Handler, logger *slog.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				logger.Error("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		e.Use(auth.Middleware(verifier, api.IsPublic))
		logger.Info("API authentication enabled (JWT)")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	handler.RegisterRoutes(e)
	return e, nil
}

// New creates a Server from configuration. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ledger, err := initLedger(cfg)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		config: cfg,
		ledger: ledger,
		health: health.NewServer(),
		logger: logger.With("component", "server"),
	}
	srv.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	sup, err := supervisor.New(supervisor.Options{
		Dir:             cfg.Storage.Dir,
		Extension:       cfg.Storage.Extension,
		InactiveTimeout: cfg.Agents.InactiveTimeout,
		SweepInterval:   cfg.Agents.SweepInterval,
		EntryPoint:      cfg.Executor.EntryPoint,
		Command:         cfg.Executor.Command,
		Env:             childEnv(cfg.Executor),
		Ledger:          ledger,
		OnTimerState:    srv.onTimerState,
		Logger:          logger,
	})
	if err != nil {
		srv.closeLedger()
		return nil, fmt.Errorf("creating supervisor: %w", err)
	}
	srv.supervisor = sup
	srv.dedupe = dedupe.New(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries)

	handler := api.NewHandler(sup, srv.dedupe, logger)
	srv.echo, err = newEcho(cfg, handler, logger.With("component", "http"))
	if err != nil {
		srv.dedupe.Close()
		srv.closeLedger()
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.GRPCAddr != "" {
		srv.grpcServer = createGRPCServer(srv.health)
	}

	return srv, nil
}

// Supervisor returns the supervisor the server exposes.
func (s *Server) Supervisor() *supervisor.Supervisor {
	return s.supervisor
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) onTimerState(state reaper.State) {
	status := servingStatus(state)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
	s.logger.Debug("timer state changed", "state", state.String(), "health", status.String())
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (s *Server) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	s.logger.Info("starting ephemera",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// Run arms the reclamation timer and serves until ctx is cancelled or a
// listener fails, then shuts down. Returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	httpLn, grpcLn, err := s.setupListeners()
	if err != nil {
		s.gracefulShutdown()
		return err
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve is Run on caller-provided listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	s.supervisor.Start(gctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcLn != nil && s.grpcServer != nil {
		g.Go(func() error {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	if s.ledger != nil && s.config.Database.Retention > 0 {
		g.Go(func() error {
			s.pruneLoop(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("context canceled, initiating shutdown")
		return s.gracefulShutdown()
	})

	return g.Wait()
}

// pruneLoop drops ledger events older than the retention window.
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		s.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.Database.Retention)
	n, err := s.ledger.PruneEvents(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("ledger prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("pruned ledger events", "count", n, "before", cutoff)
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already cancelled by the time this runs.
func (s *Server) gracefulShutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (s *Server) closeLedger() error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Close()
}

// Shutdown stops the listeners, disarms the timer, removes every remaining
// agent, and closes the ledger. Calls after the first return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down ephemera")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
		s.health.Shutdown()
		s.shutdownGRPCServer(ctx)

		removed := s.supervisor.Close(ctx)
		s.logger.Info("cleaned up agents on exit", "removed", removed)

		s.dedupe.Close()
		errs = appendCloseError(errs, "ledger close", s.closeLedger())

		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}
