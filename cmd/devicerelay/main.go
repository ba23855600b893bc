package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"nuha.dev/devicerelay/internal/config"
	"nuha.dev/devicerelay/internal/mirror"
	"nuha.dev/devicerelay/internal/relay"
	"nuha.dev/devicerelay/internal/webapp"
	"nuha.dev/devicerelay/internal/webstream"
)

func main() {
	config_file := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*config_file)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	log.DefaultLogger.Level = cfg.Level()

	hub, err := relay.NewHub(&relay.HubConfig{SmsLogLimit: cfg.SmsLogLimit, SessionSalt: cfg.SessionSalt})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create hub")
	}

	if cfg.NatsURL != "" {
		nc, err := mirror.Connect(cfg.NatsURL, "devicerelay-"+hub.InstanceID())
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NatsURL).Msg("unable to connect to nats")
		}
		defer nc.Drain()
		m := mirror.NewMirror(nc, mirror.MirrorConfig{Subject: cfg.NatsSubject, Instance: hub.InstanceID()})
		hub.Handle("nats-mirror", m.Handle)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws := webstream.NewWebstream(hub, webstream.WebStreamConfig{QueueLimit: cfg.SessionQueueLimit, WriteTimeout: cfg.WriteTimeout, ReadLimit: cfg.ReadLimit})
	api := webapp.NewApi(hub, ws, &webapp.ApiConfig{
		ListenAddr:    cfg.ListenAddr(),
		StrictUpdates: cfg.StrictUpdates,
		ProxyProtocol: cfg.ProxyProtocol,
	})
	log.Info().Str("instance", hub.InstanceID()).Str("listen", cfg.ListenAddr()).Msg("device relay starting")
	if err := api.Run(ctx); err != nil {
		log.Error().Err(err).Msg("api-server failed")
		os.Exit(1)
	}
}
