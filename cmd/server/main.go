package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"

	"github.com/agenthands/entitynet/internal/config"
	"github.com/agenthands/entitynet/internal/llm"
	"github.com/agenthands/entitynet/internal/logging"
	"github.com/agenthands/entitynet/internal/server"
	"github.com/agenthands/entitynet/internal/store"
	"github.com/agenthands/entitynet/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logging.Preinit()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using defaults")
	}

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path, true)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.Init(cfg.Log)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.InitTracing(appCtx, cfg.Telemetry, os.Stdout, logger)
	if err != nil {
		return err
	}

	di := do.New()
	do.ProvideValue(di, appCtx)
	do.ProvideValue(di, cfg)
	do.ProvideValue(di, logger)
	do.Provide(di, provideStore)
	do.Provide(di, provideRedis)
	do.Provide(di, provideLocker)
	do.Provide(di, provideEngine)
	do.Provide(di, provideLLM)
	do.Provide(di, provideExtractor)
	do.Provide(di, provideServer)

	srv, err := do.Invoke[*server.Server](di)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port, "store", cfg.Store.Backend, "lock", cfg.Lock.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-appCtx.Done():
		logger.Info("Shutting down...")
	case err = <-serveErr:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sErr := httpServer.Shutdown(ctx); sErr != nil {
		logger.Warn("http shutdown failed", "error", sErr)
	}
	closeResources(ctx, di, cfg, logger)
	if sErr := di.Shutdown(); sErr != nil {
		logger.Warn("service shutdown failed", "error", sErr)
	}
	if tErr := shutdownTracing(ctx); tErr != nil {
		logger.Warn("tracer shutdown failed", "error", tErr)
	}

	return err
}

// closeResources releases the connections the providers opened.
func closeResources(ctx context.Context, di *do.Injector, cfg *config.Config, logger *slog.Logger) {
	if s, iErr := do.Invoke[store.GraphStore](di); iErr == nil {
		if cErr := s.Close(ctx); cErr != nil {
			logger.Warn("store close failed", "error", cErr)
		}
	}
	// Only the redis lock backend builds a client; invoking it otherwise would dial.
	if cfg.Lock.Backend == "redis" {
		if c, iErr := do.Invoke[*redis.Client](di); iErr == nil {
			if cErr := c.Close(); cErr != nil {
				logger.Warn("redis close failed", "error", cErr)
			}
		}
	}
	if c, iErr := do.Invoke[llm.LLMClient](di); iErr == nil {
		if closer, ok := c.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
