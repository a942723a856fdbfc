/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package app builds the engine and its collaborators from configuration.
// The cli, the http server and the discord bot all start here.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/mbsmash/cape-smash/internal"
	"github.com/mbsmash/cape-smash/internal/config"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/mbsmash/cape-smash/startgg"
	"github.com/mbsmash/cape-smash/store"
	"github.com/rs/zerolog"
)

// Closer releases a store's resources. Stores without any return a no-op.
type Closer func() error

func noopCloser() error { return nil }

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg *config.Config,
	logger zerolog.Logger) (ranking.Store, Closer, error) {

	log := logger.With().Str("component", "store").
		Str("driver", cfg.Store.Driver).Logger()

	switch cfg.Store.Driver {
	case config.StoreMemory:
		return store.NewMemoryStore(), noopCloser, nil
	case config.StoreBolt:
		st, err := store.OpenBolt(cfg.Store.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.StoreSQLite, config.StorePostgres:
		driver, dsn := store.DriverSQLite, cfg.Store.Path
		if cfg.Store.Driver == config.StorePostgres {
			driver, dsn = store.DriverPostgres, cfg.Store.DSN
		} else if cfg.Store.DSN != "" {
			dsn = cfg.Store.DSN
		}
		st, err := store.OpenSQL(ctx, driver, dsn, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.StoreS3:
		st, err := store.OpenS3(ctx, cfg.Store.Bucket, cfg.Store.Key, log)
		if err != nil {
			return nil, nil, err
		}
		return st, noopCloser, nil
	case config.StoreRedis:
		st, err := store.OpenRedis(ctx, &redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		}, cfg.Store.RedisPrefix, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// NewSource returns a start.gg client sharing the configured response cache.
func NewSource(ctx context.Context, cfg *config.Config,
	logger zerolog.Logger) *startgg.Client {

	cache := internal.NewResponseCache(ctx, cfg.Cache.Bucket, cfg.Cache.Gzip, logger)

	return startgg.NewClient(startgg.Options{
		Endpoint:  cfg.Startgg.Endpoint,
		Token:     cfg.Startgg.Token,
		Videogame: cfg.Startgg.Videogame,
		PerPage:   cfg.Startgg.PerPage,
		MaxPages:  cfg.Startgg.MaxPages,
		Timeout:   cfg.Startgg.Timeout,
		Cache:     cache,
		CacheTTL:  cfg.Cache.TTL,
	}, logger)
}

// NewEngine opens the store, loads persisted state and wires the start.gg
// source. The returned Closer closes the store.
func NewEngine(ctx context.Context, cfg *config.Config,
	logger zerolog.Logger) (*ranking.Engine, Closer, error) {

	st, closer, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %v store: %w", cfg.Store.Driver, err)
	}

	eng := ranking.NewEngine(NewSource(ctx, cfg, logger), st, logger)
	if err := eng.Open(ctx); err != nil {
		closer()
		return nil, nil, err
	}

	return eng, closer, nil
}
