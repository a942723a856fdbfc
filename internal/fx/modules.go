/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package fx

import (
	"context"
	"os"

	"github.com/mbsmash/cape-smash/internal/app"
	"github.com/mbsmash/cape-smash/internal/config"
	"github.com/mbsmash/cape-smash/internal/logger"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/mbsmash/cape-smash/server"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// ProvideConfig reads the file named by CAPESMASH_CONFIG, if any.
func ProvideConfig() (*config.Config, error) {
	return config.Load(os.Getenv("CAPESMASH_CONFIG"))
}

func ProvideLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.Log.Level, cfg.Log.Pretty)
}

// ProvideEngine opens the configured store and closes it on shutdown.
func ProvideEngine(lc fx.Lifecycle, cfg *config.Config,
	log zerolog.Logger) (*ranking.Engine, error) {

	eng, closer, err := app.NewEngine(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return closer()
		},
	})
	return eng, nil
}

func ProvideServer(eng *ranking.Engine, cfg *config.Config,
	log zerolog.Logger) *server.Server {

	return server.New(eng, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminSecret:    cfg.Server.AdminSecret,
		TokenTTL:       cfg.Server.TokenTTL,
	}, log)
}

var Module = fx.Options(
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLogger),
	fx.Provide(ProvideEngine),
	fx.Provide(ProvideServer),
)
