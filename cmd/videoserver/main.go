package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/adverant/videogen/internal/assetservice"
	"github.com/adverant/videogen/internal/config"
	"github.com/adverant/videogen/internal/encoder"
	"github.com/adverant/videogen/internal/httpapi"
	"github.com/adverant/videogen/internal/imagestore"
	"github.com/adverant/videogen/internal/profileservice"
	"github.com/adverant/videogen/internal/scheduler"
	"github.com/adverant/videogen/internal/store"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()
	log.Info().Msg("persistence layer ready")

	if err := os.MkdirAll(cfg.OutputsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputsDir).Msg("failed to create outputs directory")
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.TempDir).Msg("failed to create temp directory")
	}

	images := imagestore.NewFSStore(cfg.ImageStoreDir)
	profiles := profileservice.New(st, images, cfg.RequireConsent, log)

	assets, err := assetservice.New(st, cfg.OutputsDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize asset service")
	}

	enc := encoder.New(cfg.FFmpegBin)
	if bin, err := enc.ResolveBinary(); err != nil {
		log.Warn().Err(err).Msg("ffmpeg binary not found at startup; jobs will fail until it is installed")
	} else {
		log.Info().Str("binary", bin).Msg("ffmpeg binary resolved")
	}

	sched := scheduler.New(scheduler.Options{
		Store:              st,
		Profiles:           profiles,
		Images:             images,
		Encoder:            enc,
		Log:                log,
		TempRoot:           cfg.TempDir,
		OutputsDir:         cfg.OutputsDir,
		DefaultDurationSec: cfg.DefaultDurationSec,
		DefaultFPS:         cfg.DefaultFPS,
	})

	ctx := context.Background()
	if err := sched.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup recovery failed")
	}
	sched.Start()
	log.Info().Msg("worker started")

	handler := httpapi.New(profiles, assets, sched, log)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	sched.Shutdown()
	log.Info().Msg("videoserver stopped")
}
