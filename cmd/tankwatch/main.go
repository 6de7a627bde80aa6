package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/alert"
	"github.com/snarg/tankwatch/internal/api"
	"github.com/snarg/tankwatch/internal/calibration"
	"github.com/snarg/tankwatch/internal/clock"
	"github.com/snarg/tankwatch/internal/config"
	"github.com/snarg/tankwatch/internal/fleet"
	"github.com/snarg/tankwatch/internal/history"
	"github.com/snarg/tankwatch/internal/ingest"
	"github.com/snarg/tankwatch/internal/metrics"
	"github.com/snarg/tankwatch/internal/notebus"
	"github.com/snarg/tankwatch/internal/sensor"
	"github.com/snarg/tankwatch/internal/seriallog"
	"github.com/snarg/tankwatch/internal/settings"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.BusBrokerURL, "bus-broker", "", "bus broker url")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "data directory")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("tankwatch starting")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data dir")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bus
	bus, err := notebus.Connect(notebus.Options{
		BrokerURL: cfg.BusBrokerURL,
		ClientID:  cfg.BusClientID,
		Username:  cfg.BusUsername,
		Password:  cfg.BusPassword,
		Timeout:   cfg.BusTimeout,
		Log:       log.With().Str("component", "bus").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to bus broker")
	}
	defer bus.Close()

	// Stores
	clk := clock.New(log)
	fleetState := fleet.NewState(log)
	serial := seriallog.NewStore(log)

	calib, err := calibration.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open calibration store")
	}
	configs, err := sensor.NewConfigCache(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open config cache")
	}
	settingsStore, err := settings.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open settings store")
	}
	unwatch, err := settingsStore.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("settings file watch unavailable")
	} else {
		defer unwatch()
	}

	var archiver *history.Archiver
	if cfg.ArchiveEnabled {
		archiver, err = history.NewArchiver(history.ArchiveConfig{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure history archive")
		}
		if err := archiver.HeadBucket(ctx); err != nil {
			log.Warn().Err(err).Msg("history archive bucket not reachable")
		}
	}
	hist := history.NewStore(cfg.HotRetentionDays, archiver, log)

	alerts := alert.NewDispatcher(bus, settingsStore, log)

	// Engine (serial task)
	engine := ingest.NewEngine(ingest.Options{
		Bus:          bus,
		Clock:        clk,
		Fleet:        fleetState,
		Serial:       serial,
		Calibration:  calib,
		Configs:      configs,
		History:      hist,
		Alerts:       alerts,
		Settings:     settingsStore,
		PollInterval: cfg.PollInterval,
		WatchdogPath: cfg.WatchdogPath,
		Log:          log,
	})
	prometheus.MustRegister(metrics.NewCollector(engine))

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx)
	}()

	// HTTP Server
	srv := api.NewServer(api.Options{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		Fleet:        fleetState,
		History:      hist,
		Calibration:  calib,
		Configs:      configs,
		Serial:       serial,
		Settings:     settingsStore,
		Engine:       engine,
		Clock:        clk,
		Bus:          bus,
		Version:      version,
		StartTime:    startTime,
		Log:          log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	<-engineDone

	log.Info().Msg("tankwatch stopped")
}
