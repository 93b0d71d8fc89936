// Package app provides application lifecycle management for the catalog feed server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/destination"
	"github.com/stacklok/catalog-feed-server/internal/generator"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/versions"
)

// FeedApp encapsulates all components needed to run the catalog feed server.
// It provides lifecycle management and graceful shutdown capabilities.
type FeedApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server
	cleanup    func()

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
}

// Bootstrap prepares persisted state for serving: it records the running
// version, recovers an interrupted cycle, makes sure every market has a
// destination and registers the recurring triggers
func (app *FeedApp) Bootstrap(ctx context.Context) error {
	c := app.components

	previous, err := versions.RecordStartup(ctx, c.Store, versions.Version)
	if err != nil {
		return err
	}
	switch {
	case previous == "":
		slog.Info("First start of the catalog feed server", "version", versions.Version)
	case versions.IsNewerVersion(versions.Version, previous):
		slog.Info("Catalog feed server upgraded", "from", previous, "to", versions.Version)
	}

	if err := c.Generator.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted generation: %w", err)
	}

	markets := destination.Keys(app.config.GetMarkets())
	if len(markets) == 0 {
		slog.Warn("No markets configured, feed generation stays pending")
		if err := c.Scheduler.CancelAll(ctx, scheduler.StepGenerate); err != nil {
			return err
		}
	} else {
		if _, err := c.Registry.EnsureDestinations(ctx, markets); err != nil {
			return fmt.Errorf("failed to create destinations: %w", err)
		}
		if err := c.Scheduler.EnqueueRecurring(ctx, scheduler.StepGenerate, app.config.GetRegenerateInterval(),
			scheduler.Args{Reason: generator.ReasonScheduled}); err != nil {
			return err
		}
	}

	if c.Registrar == nil {
		return c.Scheduler.CancelAll(ctx, scheduler.StepRegister)
	}
	return c.Scheduler.EnqueueRecurring(ctx, scheduler.StepRegister, app.config.GetRegisterInterval(), scheduler.Args{})
}

// Start bootstraps the persisted state, then runs the step scheduler and the
// HTTP server until Stop is called or either of them fails
func (app *FeedApp) Start() error {
	app.mu.Lock()
	if app.done != nil {
		app.mu.Unlock()
		return fmt.Errorf("application already started")
	}
	app.done = make(chan struct{})
	done := app.done
	app.mu.Unlock()
	defer close(done)

	if err := app.Bootstrap(app.ctx); err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}

	g, gctx := errgroup.WithContext(app.ctx)
	g.Go(func() error {
		return app.components.Scheduler.Start(gctx)
	})
	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Stops the scheduler when the server fails, and the server when Stop cancels the context
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultIdleTimeout)
		defer cancel()
		return app.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout. It stops the
// scheduler, shuts down the HTTP server and releases storage and telemetry.
func (app *FeedApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	app.mu.Lock()
	done := app.done
	app.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			slog.Warn("Timed out waiting for running steps to finish")
		}
	}

	app.Close()
	slog.Info("Server shutdown complete")
	return shutdownErr
}

// Close releases storage and telemetry without serving. One-shot commands
// call it instead of Stop.
func (app *FeedApp) Close() {
	app.closeOnce.Do(func() {
		if app.cancelFunc != nil {
			app.cancelFunc()
		}
		if app.cleanup != nil {
			app.cleanup()
		}
	})
}

// GetConfig returns the application configuration
func (app *FeedApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *FeedApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the feed components, used by the one-shot commands
func (app *FeedApp) Components() *AppComponents {
	return app.components
}
