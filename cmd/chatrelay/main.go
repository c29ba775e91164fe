package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv(config.EnvPrefix+"CONFIG_FILE")); err != nil {
		zlog.Fatal().Err(err).Msg("chatrelay exited")
	}
}

// run blocks until ctx is cancelled or the HTTP server fails, then shuts down.
// Configuration precedence: file > environment (.env included) > defaults.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Log)

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	serveErr, err := application.Start(ctx)
	if err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	var runErr error
	select {
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("application error: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	if err := application.Stop(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		if runErr == nil {
			runErr = fmt.Errorf("shutdown error: %w", err)
		}
	}
	return runErr
}
