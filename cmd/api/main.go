package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/simonkvalheim/fjord-microfinance/internal/auth"
	"github.com/simonkvalheim/fjord-microfinance/internal/bootstrap"
	"github.com/simonkvalheim/fjord-microfinance/internal/config"
	"github.com/simonkvalheim/fjord-microfinance/internal/handler"
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

	if cfg.UsingDevSecret() {
		logger.Warn("using default JWT_SECRET for development; set JWT_SECRET in production")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// run serves until a signal arrives or the listener fails. The store and
// notifier are closed before it returns.
func run(cfg *config.Config, logger *zap.Logger) error {
	app, err := bootstrap.Initialize(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close()

	router := handler.NewRouter(handler.RouterConfig{
		Ledger:         app.Ledger,
		Lending:        app.Lending,
		Deposits:       app.Deposits,
		Goals:          app.Goals,
		Investments:    app.Investments,
		Scorer:         app.Scoring,
		Verifier:       auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Ping:           app.Store.Ping,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("storage", cfg.Storage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
