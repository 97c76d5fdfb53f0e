package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/bootstrap"
	"github.com/simonkvalheim/fjord-microfinance/internal/config"
	"github.com/simonkvalheim/fjord-microfinance/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("scheduler exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// run returns only after the store and notifier are closed
func run(cfg *config.Config, logger *zap.Logger) error {
	app, err := bootstrap.Initialize(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close()

	jobs := scheduler.NewJobs(app.Deposits, app.Lending, logger.Named("jobs"))
	s := scheduler.NewScheduler(jobs, logger.Named("scheduler"), scheduler.Schedule{
		Maturity: cfg.MaturitySchedule,
		Defaults: cfg.DefaultSchedule,
	})
	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logger.Info("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received, stopping scheduler")
	<-s.Stop().Done()
	logger.Info("scheduler stopped")
	return nil
}
