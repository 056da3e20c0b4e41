package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"valorant-rank/internal/config"
	"valorant-rank/internal/constants"
	fxmodules "valorant-rank/internal/fx"
	"valorant-rank/internal/metrics"
	"valorant-rank/internal/middleware"
	"valorant-rank/internal/repository"
	"valorant-rank/internal/server"
	"valorant-rank/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

func main() {
	var flags config.Flags
	pflag.StringVar(&flags.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	pflag.StringVar(&flags.LogLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")
	pflag.StringVar(&flags.CredentialsFile, "credentials", "", "YAML file with per-region Riot credentials")
	pflag.Parse()

	fx.New(
		fx.Supply(flags),
		fxmodules.Module,
		fx.NopLogger,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	valorantServer *server.ValorantServer,
	pool *service.SessionPool,
	store repository.RegistrationStore,
	m *metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) {
	mux := http.NewServeMux()

	path, handler := valorantServer.Handler()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID", "Grpc-Status", "Grpc-Message", "Grpc-Status-Details-Bin"},
	})

	mux.Handle(path, middleware.RequestID(logger)(c.Handler(handler)))
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           mux,
		ReadHeaderTimeout: constants.RequestTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			// riot sessions are closed in the background
			pool.Close()

			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing registration store")
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
