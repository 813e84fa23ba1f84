package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	engine, err := rtc.New(rtc.Options{
		ListenIP:    cfg.Engine.ListenIP,
		AnnouncedIP: cfg.Engine.AnnouncedIP,
		UDPPortMin:  cfg.Engine.UDPPortMin,
		UDPPortMax:  cfg.Engine.UDPPortMax,
		ICEServers:  iceServers(cfg.Engine.ICEServers),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}

	rooms := app.NewRoomRegistry(engine, cfg.Chat.HistoryLimit)
	reg := app.NewRegistry(app.SimplePolicy{})
	o := orch.New(reg, rooms, cfg.Engine.CallTimeout)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-engine.Died():
		log.Error().Err(err).Msg("media engine died, shutting down")
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	// rooms before the listener, so engine resources never outlive it
	if err := rooms.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("rooms did not close cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if exitCode != 0 {
		shutdownCancel()
		os.Exit(exitCode)
	}
	log.Info().Msg("Server exited gracefully")
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
