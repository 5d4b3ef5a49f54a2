// Package refresher implements app.Runner for the refresher process.
package refresher

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	apphttp "github.com/chainsafe/senate-indexer/pkg/app/http"
	"github.com/chainsafe/senate-indexer/pkg/config"
	"github.com/chainsafe/senate-indexer/pkg/scheduler"
)

// Server holds configuration for the refresher process.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new refresher Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the scheduler, the periodic sanity pass and the ops HTTP server.
// It blocks until an OS shutdown signal is received or a fatal server error occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging, "refresher")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting governance refresher")

	components, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	engine := scheduler.NewEngine(cfg.Refresher, components.Store, components.Facade, logger.Named("scheduler"))
	engine.Start(ctx)
	defer engine.Stop()

	if cfg.Sanity.Enabled {
		components.Sanity.StartPeriodic(cfg.Sanity.Interval)
		defer components.Sanity.Stop()
	} else {
		logger.Info("Maker poll sanity pass disabled")
	}

	router := NewRouter(RouterConfig{
		Entities:       components.Store,
		Queue:          engine.Queue(),
		Ready:          engine,
		Metrics:        cfg.Monitoring.Enabled,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger.Named("http"))

	srv := apphttp.NewServer(&cfg.Server, router)
	if err := apphttp.ServeAndWait(ctx, logger, srv, cfg.Shutdown.Timeout); err != nil {
		logger.Error("Refresher stopped with error", zap.Error(err))
		return err
	}
	return nil
}
