package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/ecoloop/internal/bootstrap"
	"github.com/yanqian/ecoloop/internal/domain/account"
	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/internal/infra/config"
	"github.com/yanqian/ecoloop/internal/infra/llm/gemini"
	"github.com/yanqian/ecoloop/internal/infra/resultcache"
	"github.com/yanqian/ecoloop/internal/infra/userstore"
)

func providePipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	return bootstrap.PipelineConfig(cfg)
}

func provideGeminiClient(cfg *config.Config, logger *slog.Logger) *gemini.Client {
	return bootstrap.GeminiClient(cfg, logger)
}

func provideAccountConfig(cfg *config.Config) account.Config {
	return account.Config{AcceptAnyLogin: cfg.Accounts.AcceptAnyLogin}
}

func provideResultCache(cfg *config.Config, logger *slog.Logger) (pipeline.ResultCache, func()) {
	noop := func() {}
	if !cfg.Cache.Enabled {
		logger.Info("result cache disabled")
		return nil, noop
	}
	addr := strings.TrimSpace(cfg.Cache.Valkey.Addr)
	if addr == "" {
		return resultcache.NewMemoryCache(), noop
	}
	opt, err := buildValkeyOptions(addr)
	if err != nil {
		logger.Error("invalid valkey configuration, falling back to memory cache", "error", err)
		return resultcache.NewMemoryCache(), noop
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, falling back to memory cache", "error", err)
		return resultcache.NewMemoryCache(), noop
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, falling back to memory cache", "error", err)
		client.Close()
		return resultcache.NewMemoryCache(), noop
	}
	logger.Info("valkey result cache enabled", "addr", addr)
	return resultcache.NewValkeyCache(client, ""), client.Close
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	if strings.Contains(addr, "://") {
		return valkey.ParseURL(addr)
	}
	return valkey.ClientOption{InitAddress: []string{addr}}, nil
}

func provideAccountRepository(cfg *config.Config, logger *slog.Logger) (account.Repository, func()) {
	noop := func() {}
	fileStore := userstore.NewFileStore(cfg.Accounts.File)
	if cfg.Accounts.Backend != "postgres" {
		logger.Info("file account store enabled", "path", cfg.Accounts.File)
		return fileStore, noop
	}

	pg := cfg.Accounts.Postgres
	poolConfig, err := pgxpool.ParseConfig(strings.TrimSpace(pg.DSN))
	if err != nil {
		logger.Error("invalid postgres dsn, using file account store", "error", err)
		return fileStore, noop
	}
	if pg.MaxConns > 0 {
		poolConfig.MaxConns = pg.MaxConns
	}
	if pg.MinConns > 0 {
		poolConfig.MinConns = pg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using file account store", "error", err)
		return fileStore, noop
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using file account store", "error", err)
		pool.Close()
		return fileStore, noop
	}
	store := userstore.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare accounts table, using file account store", "error", err)
		pool.Close()
		return fileStore, noop
	}
	logger.Info("postgres account store enabled")
	return store, pool.Close
}
