package fx

import (
	"context"
	"valorant-rank/internal/api"
	"valorant-rank/internal/config"
	"valorant-rank/internal/constants"
	"valorant-rank/internal/logger"
	"valorant-rank/internal/metrics"
	"valorant-rank/internal/repository"
	"valorant-rank/internal/server"
	"valorant-rank/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideLogger(flags config.Flags) zerolog.Logger {
	return logger.New(flags.LogLevel)
}

func ProvideRegistrationStore(cfg *config.Config, logger zerolog.Logger) (repository.RegistrationStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	return repository.OpenRegistrationStore(ctx, cfg, logger)
}

func ProvideHandleResolver(c *api.HDevClient) service.HandleResolver {
	return c
}

var Module = fx.Options(
	fx.Provide(ProvideLogger),
	fx.Provide(config.Load),
	fx.Provide(metrics.New),
	// storage
	fx.Provide(ProvideRegistrationStore),
	// api clients
	fx.Provide(api.DefaultEndpoints),
	fx.Provide(api.NewHDevClient),
	fx.Provide(ProvideHandleResolver),
	fx.Provide(service.NewRiotSessionFactory),
	// svc
	fx.Provide(service.NewSessionPool),
	fx.Provide(service.NewRegistrationService),
	fx.Provide(service.NewRankService),
	// server
	fx.Provide(server.NewValorantServer),
)
