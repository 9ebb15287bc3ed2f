// cmd/chaos/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/chaos"
	"github.com/JaviNavarroB/Cierzo/internal/clients"
	"github.com/JaviNavarroB/Cierzo/internal/config"
	"github.com/JaviNavarroB/Cierzo/pkg/logging"
	"github.com/JaviNavarroB/Cierzo/pkg/postgres"
	"github.com/JaviNavarroB/Cierzo/pkg/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg := config.MustLoad()
	logging.Setup("chaos", cfg.Log.Level, cfg.Log.Pretty)

	shutdownTracing, err := telemetry.Setup(ctx, "chaos", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Insecure)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	db, err := postgres.Open(ctx, cfg.DB.Postgres())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// A separate pool so that held connections drain the server, not the
	// pool the steady-state queries run on.
	holdDB, err := postgres.Open(ctx, postgres.Options{URL: cfg.DB.URL, MaxOpenConns: cfg.Chaos.HoldConns})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open hold pool")
	}
	defer holdDB.Close()

	opts := clients.Options{}
	workload := chaos.NewWorkload(db,
		clients.NewMembershipClient(cfg.Chaos.APIURL, opts),
		clients.NewCatalogClient(cfg.Chaos.APIURL, opts),
		clients.NewEnrollmentClient(cfg.Chaos.APIURL, opts),
		chaos.WorkloadOptions{
			Concurrency:    cfg.Chaos.Concurrency,
			Duration:       cfg.Chaos.Duration,
			HoldConns:      cfg.Chaos.HoldConns,
			HoldDB:         holdDB,
			AcquireTimeout: cfg.Chaos.AcquireTimeout,
		},
	)

	engine := chaos.NewEngine(chaos.Options{
		SampleInterval: cfg.Chaos.SampleInterval,
		Pause:          cfg.Chaos.Pause,
	})
	engine.Register(workload.Experiments()...)

	gameDay := chaos.GameDay{
		Name:      "Enrollment Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	}

	if err := engine.ExecuteGameDay(ctx, gameDay); err != nil {
		log.Fatal().Err(err).Msg("chaos game day failed")
	}
}
