package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/iot-fleet/internal/reconcile"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/spf13/pflag"
)

func main() {
	server := pflag.String("server", "http://localhost:8080", "base URL of the fleet server")
	logLevel := pflag.String("log-level", "info", "log level")
	logFormat := pflag.String("log-format", "console", "log format, json or console")
	redisPassword := pflag.String("redis-password", os.Getenv("FLEET_REDIS_PASSWORD"), "password for the redis relay")
	redisDB := pflag.Int("redis-db", 0, "database index for the redis relay")
	pflag.Parse()

	logger := utils.NewLogger(*logLevel, *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := reconcile.NewAPIClient(*server)
	rc, err := api.RelayConfig(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("server", *server).Msg("Failed to fetch relay configuration")
	}

	source, err := reconcile.SourceFromRelayConfig(*server, rc, reconcile.SourceOptions{
		RedisPassword: *redisPassword,
		RedisDB:       *redisDB,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", rc.Backend).Msg("Unsupported relay configuration")
	}
	logger.Info().Str("backend", rc.Backend).Str("url", rc.URL).Msg("Following live channel")

	client := reconcile.NewClient(source, api, reconcile.DefaultBackoff, logger)
	client.OnChange(func(c reconcile.Change) {
		if c.Delta == nil {
			ev := logger.Info().Stringer("state", c.State)
			if c.Err != nil {
				ev = logger.Error().Err(c.Err).Stringer("state", c.State)
			}
			ev.Msg("Live channel state changed")
			return
		}

		summary := client.View().Summary()
		logger.Info().
			Str("channel", c.Delta.Channel).
			Str("event", c.Delta.Event).
			Int("total", summary.Total).
			Int("online", summary.Online).
			Int("offline", summary.Offline).
			Msg("Working set updated")

		for _, d := range client.View().Devices() {
			logger.Debug().Str("device_id", d.DeviceID).Str("status", d.Status).Time("last_seen", d.LastSeen).Msg("Device")
		}
		for _, s := range client.OTA().All() {
			logger.Debug().Str("device_id", s.DeviceID).Str("progress", s.Progress).Str("result", string(s.Result)).Msg("OTA")
		}
	})

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("Client stopped")
	}
	if client.State() == reconcile.StateDisconnected {
		logger.Error().Msg("Live channel lost, restart to reconnect")
		os.Exit(1)
	}
	logger.Info().Msg("Shutting down")
}
