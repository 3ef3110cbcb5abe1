package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"

	"github.com/agenthands/entitynet/internal/config"
	"github.com/agenthands/entitynet/internal/core"
	"github.com/agenthands/entitynet/internal/core/extraction"
	"github.com/agenthands/entitynet/internal/core/keylock"
	"github.com/agenthands/entitynet/internal/driver"
	"github.com/agenthands/entitynet/internal/llm"
	"github.com/agenthands/entitynet/internal/server"
	"github.com/agenthands/entitynet/internal/store"
	"github.com/agenthands/entitynet/internal/store/graphdb"
	"github.com/agenthands/entitynet/internal/store/memory"
	"github.com/agenthands/entitynet/internal/store/postgres"
	"github.com/agenthands/entitynet/internal/store/sqlite"
)

func provideStore(di *do.Injector) (store.GraphStore, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)
	logger := do.MustInvoke[*slog.Logger](di)

	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil

	case "memgraph":
		d, err := driver.NewMemgraphDriver(ctx, driver.Options{
			URI:         cfg.Memgraph.URI,
			User:        cfg.Memgraph.User,
			Password:    cfg.Memgraph.Password,
			Database:    cfg.Memgraph.Database,
			Dialect:     cfg.Memgraph.Dialect,
			MaxPoolSize: cfg.Memgraph.MaxPoolSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := d.BuildIndices(ctx); err != nil {
			_ = d.Close(ctx)
			return nil, err
		}
		return graphdb.New(d, logger), nil

	case "postgres":
		return postgres.Open(ctx, postgres.Options{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			Migrate:  cfg.Postgres.Migrate,
		}, logger)

	case "sqlite":
		return sqlite.Open(cfg.SQLite.Path, logger)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func provideRedis(di *do.Injector) (*redis.Client, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

func provideLocker(di *do.Injector) (keylock.Locker, error) {
	cfg := do.MustInvoke[*config.Config](di)
	logger := do.MustInvoke[*slog.Logger](di)

	if cfg.Lock.Backend != "redis" {
		return keylock.NewLocal(), nil
	}

	client, err := do.Invoke[*redis.Client](di)
	if err != nil {
		return nil, err
	}
	logger.Info("Using redis key locks", "addr", cfg.Redis.Addr)
	return keylock.NewRedis(client, cfg.Redis.TTL(), keylock.WithLogger(logger)), nil
}

func provideEngine(di *do.Injector) (*core.Engine, error) {
	cfg := do.MustInvoke[*config.Config](di)
	s, err := do.Invoke[store.GraphStore](di)
	if err != nil {
		return nil, err
	}
	locks, err := do.Invoke[keylock.Locker](di)
	if err != nil {
		return nil, err
	}
	return core.NewEngine(s, locks, core.Options{
		Concurrency:  cfg.Engine.Concurrency,
		StoreTimeout: cfg.Store.Timeout(),
		Logger:       do.MustInvoke[*slog.Logger](di),
	}), nil
}

func provideLLM(di *do.Injector) (llm.LLMClient, error) {
	return llm.NewClient(
		do.MustInvoke[context.Context](di),
		do.MustInvoke[*config.Config](di).LLM,
		do.MustInvoke[*slog.Logger](di),
	)
}

// provideExtractor yields a nil extractor when no LLM provider is configured.
func provideExtractor(di *do.Injector) (extraction.Extractor, error) {
	client, err := do.Invoke[llm.LLMClient](di)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	cfg := do.MustInvoke[*config.Config](di)
	return extraction.NewExtractor(client, cfg.Extraction, do.MustInvoke[*slog.Logger](di)), nil
}

func provideServer(di *do.Injector) (*server.Server, error) {
	cfg := do.MustInvoke[*config.Config](di)
	engine, err := do.Invoke[*core.Engine](di)
	if err != nil {
		return nil, err
	}
	extractor, err := do.Invoke[extraction.Extractor](di)
	if err != nil {
		return nil, err
	}
	return server.NewServer(engine, extractor, server.Options{
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		ServiceName: cfg.Telemetry.ServiceName,
	}, do.MustInvoke[*slog.Logger](di)), nil
}
