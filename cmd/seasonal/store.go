package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/seasonal/internal/asset"
	"github.com/mtlprog/seasonal/internal/config"
	"github.com/mtlprog/seasonal/internal/database"
	"github.com/mtlprog/seasonal/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// store bundles the database pool and the asset service built on it.
type store struct {
	pool   *pgxpool.Pool
	assets *asset.Service
	closer func()
}

func (s *store) Close() {
	s.closer()
}

// openStore connects to PostgreSQL, applies migrations and builds the asset service.
func openStore(ctx context.Context, cfg config.Config) (*store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	cache, closeCache := newRowCache(ctx, cfg)
	svc := asset.NewService(asset.NewPgRepository(pool), cache, domain.PolicyFor(cfg.ReplaceMissingWithZero))

	return &store{
		pool:   pool,
		assets: svc,
		closer: func() {
			closeCache()
			pool.Close()
		},
	}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("opening migrations: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, sub); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// newRowCache prefers Redis when configured and falls back to an in-process cache.
func newRowCache(ctx context.Context, cfg config.Config) (asset.RowCache, func()) {
	if cfg.RedisURL != "" {
		rc, err := asset.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err == nil {
			slog.Info("using redis row cache")
			return rc, func() { _ = rc.Close() }
		}
		slog.Warn("redis unavailable, using in-memory row cache", "error", err)
	}
	return asset.NewMemoryCache(cfg.CacheTTL), func() {}
}
