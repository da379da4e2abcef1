// Command messaged runs the conversation server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cookshare/messaging/api"
	"github.com/cookshare/messaging/postgres"
	"github.com/cookshare/messaging/redis"
)

type config struct {
	Addr        string
	PostgresDSN string
	RedisAddr   string
	MediaDir    string
}

func loadConfig() config {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := config{
		Addr:        os.Getenv("ADDR"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		MediaDir:    os.Getenv("MEDIA_DIR"),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = "media"
	}
	return cfg
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("Server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}

	var cache api.Cache
	if cfg.RedisAddr != "" {
		rds, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		cache = rds
	} else {
		logger.Warn("REDIS_ADDR not set, running without cache")
	}

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: &api.API{
			Logger:   logger,
			DB:       db,
			Cache:    cache,
			Val:      api.NewValidator(),
			MediaDir: cfg.MediaDir,
		},
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
