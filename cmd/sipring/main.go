package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/sipring/internal/api"
	"github.com/sebas/sipring/internal/banner"
	"github.com/sebas/sipring/internal/config"
	"github.com/sebas/sipring/internal/engine"
	"github.com/sebas/sipring/internal/logger"
	"github.com/sebas/sipring/internal/registry"
	"github.com/sebas/sipring/internal/store"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	st := store.NewStore(cfg.ConfigFile(), store.Defaults{
		SIPPort:      cfg.DefaultSIPPort,
		LocalPort:    cfg.DefaultLocalPort,
		RingDuration: cfg.DefaultRingDuration,
	})
	events := store.NewEventLog(cfg.EventsFile())
	recorder := store.NewRingRecorder(st, events)
	resolver := engine.NewAddrResolver()
	reg := registry.New(recorder, resolver)

	srv, err := api.NewServer(cfg, st, events, recorder, reg)
	if err != nil {
		slog.Error("[Main] failed to create server", "error", err)
		os.Exit(1)
	}

	sipHost := cfg.SIPHost
	if sipHost == "" {
		sipHost = "auto-detect"
	}
	auth := "disabled"
	if cfg.AuthEnabled() {
		auth = "enabled (user " + cfg.Username + ")"
	}
	retention := "forever"
	if cfg.EventRetentionDays > 0 {
		retention = fmt.Sprintf("%d days", cfg.EventRetentionDays)
	}
	banner.Print("SIP Ring Service", []banner.ConfigLine{
		{Label: "HTTP", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)},
		{Label: "Data directory", Value: cfg.DataDir},
		{Label: "SIP host", Value: sipHost},
		{Label: "Basic auth", Value: auth},
		{Label: "Event retention", Value: retention},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	srv.Start()

	if cfg.EventRetentionDays > 0 {
		go pruneLoop(events, cfg.EventRetentionDays)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("[Main] shutting down", "signal", sig.String())

	if err := srv.Stop(); err != nil {
		slog.Error("[Main] shutdown error", "error", err)
	}
}

// pruneLoop drops ring events older than the retention window, once at
// startup and then every 24 hours.
func pruneLoop(events *store.EventLog, retentionDays int) {
	prune := func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		removed, err := events.Prune(cutoff)
		if err != nil {
			slog.Error("[Main] event prune failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("[Main] pruned old ring events", "removed", removed)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		prune()
	}
}
