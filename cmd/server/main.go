// fleet-control-plane is the entry point for the fleet control plane server.
// It provides:
//   - a hierarchical per-path agent registry
//   - per-agent inventory tracking with threshold-triggered reordering
//   - parent/child and broadcast messaging across the fleet
//   - live websocket subscriptions per agent
//   - an embedded SQLite store, one database per agent
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fleetgrid/control-plane/internal/config"
	"github.com/fleetgrid/control-plane/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("fleet control plane starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		srv *server.Server
		err error
	)
	if file := os.Getenv("FLEET_CONFIG_FILE"); file != "" {
		cfg, cerr := config.LoadFile(file)
		if cerr != nil {
			log.Fatal().Err(cerr).Str("file", file).Msg("failed to load config file")
		}
		srv, err = server.NewWithConfig(ctx, cfg)
	} else {
		srv, err = server.New(ctx)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}
	defer srv.ShutdownFunc(context.Background())

	log.Info().Int("port", srv.Port).Msg("fleet control plane ready")

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
