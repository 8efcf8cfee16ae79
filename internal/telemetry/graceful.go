package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GracefulShutdown runs registered cleanup hooks concurrently under one
// overall timeout for all of them (spec §5 "Cancellation").
type GracefulShutdown struct {
	mu      sync.Mutex
	hooks   []func() error
	timeout time.Duration
	logger  *Logger
}

// NewGracefulShutdown builds a shutdown manager with the given timeout,
// shared by all hooks of one Shutdown call.
func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = DefaultLogger("shutdown")
	}
	return &GracefulShutdown{timeout: timeout, logger: logger}
}

// Register appends a cleanup hook. Hooks are started in reverse registration
// order but run concurrently, so they may finish in any order.
func (g *GracefulShutdown) Register(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Shutdown runs every hook concurrently and waits up to the configured
// timeout for all of them to finish.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	hooks := append([]func() error(nil), g.hooks...)
	g.mu.Unlock()

	g.logger.Info("starting graceful shutdown", Int("hooks", len(hooks)))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(hooks))
	for i := len(hooks) - 1; i >= 0; i-- {
		fn := hooks[i]
		wg.Add(1)
		go func(idx int, fn func() error) {
			defer wg.Done()
			if err := fn(); err != nil {
				g.logger.Error("shutdown hook failed", Int("index", idx), Err(err))
				errCh <- err
			}
		}(i, fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("graceful shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		g.logger.Warn("graceful shutdown timed out; forcing exit")
		return fmt.Errorf("shutdown timeout after %s", g.timeout)
	}
}
