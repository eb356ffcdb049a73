package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "meetclient/internal/adapters/http"
	"meetclient/internal/adapters/media"
	"meetclient/internal/adapters/rtc"
	signaladapter "meetclient/internal/adapters/signal"
	"meetclient/internal/app/session"
	"meetclient/internal/config"
	"meetclient/internal/core"
	"meetclient/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := session.NewMetrics(registry)

	sig, err := signaladapter.Dial(ctx, cfg.SignalURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.SignalURL).Msg("signal dial failed")
	}

	sess := session.New(session.Deps{
		Signal:    sig,
		Engine:    rtc.NewEngine(rtc.DefaultWebRTCConfig()),
		Source:    media.NewSyntheticSource(),
		Directory: sig,
		Metrics:   metrics,
		OpTimeout: cfg.OpTimeout,
		Constraints: core.Constraints{
			Audio: cfg.Audio,
			Video: cfg.Video,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DebugPort),
		Handler: router.SetupRouter(cfg, sess, registry),
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("debug server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("debug server error")
		}
	}()

	go func() {
		if err := sess.Join(ctx, domain.RoomID(cfg.Room)); err != nil {
			log.Error().Err(err).Str("room", cfg.Room).Msg("join failed, leaving")
			cancel()
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case room := <-sess.Closed():
		log.Info().Str("room", string(room)).Msg("room closed by relay, shutting down")
	}

	sess.Leave()
	sig.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("debug server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
