// Command runserver is the reference run server: it accepts runs on the public
// port, records from workers on the internal port, and streams every run's
// history to subscribers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/policy"
	"github.com/xiaot623/gogo/runstream/internal/repository"
	"github.com/xiaot623/gogo/runstream/internal/service"
	server "github.com/xiaot623/gogo/runstream/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "runserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	logger.Info("starting run server",
		"http_port", cfg.HTTPPort,
		"internal_port", cfg.InternalPort,
		"database", cfg.DatabaseURL,
		"max_targets", cfg.MaxTargets)

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy, cfg.MaxTargets)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	h := hub.New(logger)

	// Initialize service
	svc, err := service.New(db, policyEngine, h, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	externalServer := server.NewExternalServer(svc, cfg, logger)
	internalServer := server.NewInternalServer(svc)

	g, gctx := errgroup.WithContext(ctx)
	// Open streams end with the server instead of holding up shutdown.
	externalServer.Server.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("public API listening", "addr", addr)
		if err := externalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("public server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		logger.Info("internal API listening", "addr", addr)
		if err := internalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("internal server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down run server")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(
			externalServer.Shutdown(shutdownCtx),
			internalServer.Shutdown(shutdownCtx),
		)
	})

	err = g.Wait()
	logger.Info("run server stopped")
	return err
}
