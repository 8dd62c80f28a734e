// Package server runs the HTTP server and shuts the service down in order
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Shutdownable represents a component that can be gracefully shut down
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// ShutdownFunc wraps a function to implement Shutdownable
type ShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownFunc creates a Shutdownable from a function
func NewShutdownFunc(name string, fn func(context.Context) error) *ShutdownFunc {
	return &ShutdownFunc{name: name, fn: fn}
}

// Name returns the component name
func (s *ShutdownFunc) Name() string {
	return s.name
}

// Shutdown calls the wrapped function
func (s *ShutdownFunc) Shutdown(ctx context.Context) error {
	return s.fn(ctx)
}

// Config holds configuration for graceful shutdown
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	Shutdownables   []Shutdownable
	ShutdownTimeout time.Duration
}

// GracefulShutdown serves HTTP until a signal arrives, then stops the server
// and closes every registered component in registration order. Components
// are closed one at a time so later ones (the tracer) still see the earlier
// ones finish.
type GracefulShutdown struct {
	server          *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
	signalChan      chan os.Signal

	mu            sync.Mutex
	shutdownables []Shutdownable
	once          sync.Once
}

// New creates a new GracefulShutdown manager
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &GracefulShutdown{
		server:          cfg.Server,
		logger:          cfg.Logger.With(zap.String("component", "shutdown")),
		shutdownables:   cfg.Shutdownables,
		shutdownTimeout: cfg.ShutdownTimeout,
		signalChan:      make(chan os.Signal, 1),
	}
}

// AddShutdownable adds a component to the end of the shutdown sequence
func (g *GracefulShutdown) AddShutdownable(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shutdownables = append(g.shutdownables, s)
}

// AddShutdownFunc adds a shutdown function as a component
func (g *GracefulShutdown) AddShutdownFunc(name string, fn func(context.Context) error) {
	g.AddShutdownable(NewShutdownFunc(name, fn))
}

// Run serves HTTP and blocks until SIGINT/SIGTERM, ctx cancellation, a
// manual Trigger or a listener failure, then shuts everything down. It
// returns the listener error, if any.
func (g *GracefulShutdown) Run(ctx context.Context) error {
	signal.Notify(g.signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(g.signalChan)

	serveErr := make(chan error, 1)
	if g.server != nil {
		go func() {
			g.logger.Info("Server listening", zap.String("addr", g.server.Addr))
			if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case sig := <-g.signalChan:
		g.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		g.logger.Info("Context cancelled, initiating shutdown")
	case runErr = <-serveErr:
		g.logger.Error("Server error", zap.Error(runErr))
	}

	g.Shutdown()
	return runErr
}

// Trigger requests shutdown of a running Run call
func (g *GracefulShutdown) Trigger() {
	select {
	case g.signalChan <- syscall.SIGTERM:
		g.logger.Info("Manual shutdown triggered")
	default:
		g.logger.Info("Shutdown already in progress")
	}
}

// Shutdown stops the HTTP server and closes all components. It is safe to
// call more than once; only the first call does any work.
func (g *GracefulShutdown) Shutdown() {
	g.once.Do(g.shutdown)
}

func (g *GracefulShutdown) shutdown() {
	g.logger.Info("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
	defer cancel()

	// Stop accepting requests first; in-flight assessments finish here.
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Warn("Server shutdown timed out, forcing close", zap.Error(err))
			_ = g.server.Close()
		} else {
			g.logger.Info("HTTP server shutdown complete")
		}
	}

	g.mu.Lock()
	shutdownables := make([]Shutdownable, len(g.shutdownables))
	copy(shutdownables, g.shutdownables)
	g.mu.Unlock()

	for _, s := range shutdownables {
		if ctx.Err() != nil {
			g.logger.Warn("Shutdown deadline reached, skipping component",
				zap.String("name", s.Name()))
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			g.logger.Error("Error shutting down component",
				zap.String("name", s.Name()),
				zap.Error(err))
			continue
		}
		g.logger.Info("Component shutdown complete", zap.String("name", s.Name()))
	}

	g.logger.Info("Graceful shutdown complete")
}

// Closer adapts anything with a Close method, such as a pgx pool wrapper or
// a go-redis client
func Closer(name string, c interface{ Close() error }) Shutdownable {
	return NewShutdownFunc(name, func(context.Context) error {
		return c.Close()
	})
}

// CloseTracer returns a ShutdownFunc that flushes an OpenTelemetry tracer
func CloseTracer(shutdownFunc func(context.Context) error) Shutdownable {
	return NewShutdownFunc("tracer", shutdownFunc)
}
