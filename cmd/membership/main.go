// cmd/membership/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/auth"
	"github.com/JaviNavarroB/Cierzo/internal/config"
	"github.com/JaviNavarroB/Cierzo/internal/httpx"
	"github.com/JaviNavarroB/Cierzo/internal/membership"
	"github.com/JaviNavarroB/Cierzo/pkg/eventstore"
	"github.com/JaviNavarroB/Cierzo/pkg/logging"
	"github.com/JaviNavarroB/Cierzo/pkg/postgres"
	"github.com/JaviNavarroB/Cierzo/pkg/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg := config.MustLoad()
	logging.Setup("membership", cfg.Log.Level, cfg.Log.Pretty)

	shutdownTracing, err := telemetry.Setup(ctx, "membership", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Insecure)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	db, err := postgres.Open(ctx, cfg.DB.Postgres())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.DB.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to create schema")
		}
	}

	es := eventstore.NewEventStore(db.DB)
	cfg.Auth.WarnDefaultSecret()
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	svc := membership.NewService(db, es, tokens, membership.Options{
		RatePerMinute: cfg.RateLimit.PerMinute,
		Burst:         cfg.RateLimit.Burst,
	})
	handler := membership.NewHandler(svc)

	router := httpx.NewRouter()
	router.Mount("/", handler.Routes(tokens))

	if err := httpx.Serve(ctx, router, cfg.HTTP.Server("8083")); err != nil {
		log.Fatal().Err(err).Msg("membership service failed")
	}
}
