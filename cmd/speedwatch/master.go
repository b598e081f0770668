package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/aggregator"
	"github.com/speedwatch/speedwatch/internal/api"
	"github.com/speedwatch/speedwatch/internal/config"
	"github.com/speedwatch/speedwatch/internal/events"
	"github.com/speedwatch/speedwatch/internal/scheduler"
	"github.com/speedwatch/speedwatch/internal/storage"
	"github.com/speedwatch/speedwatch/internal/telegram"
	"github.com/speedwatch/speedwatch/internal/telemetry"
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the aggregating master: ingest API, digest scheduler, Telegram bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		if cfg.Mode != "master" || cfg.Master == nil {
			return fmt.Errorf("config mode is %q, master section required", cfg.Mode)
		}
		return runMaster(cfg, log)
	},
}

func runMaster(cfg config.Config, log *zap.Logger) error {
	m := cfg.Master

	shutdownTracing, err := telemetry.InitTracing(cfg.Telemetry.Traces)
	if err != nil {
		return err
	}

	prefs, err := storage.NewBadgerStore(m.PrefsDB)
	if err != nil {
		return fmt.Errorf("open preference store: %w", err)
	}
	defer prefs.Close()

	state := aggregator.New(m.NodesMeta, log)

	var publisher *events.Publisher
	if m.Events.NATSURL != "" {
		publisher, err = events.NewPublisher(m.Events.NATSURL, m.Events.Subject, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer publisher.Close()
	}

	tg := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL, cfg.Telegram.RatePerSecond, log)
	sched := scheduler.New(state, prefs, tg, m, cfg.Thresholds, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)
	go tg.Poll(ctx, telegram.Handler{
		Prefs:       prefs,
		DefaultsFor: sched.DefaultsFor,
		Digest:      sched.DigestFor,
	})

	httpServer := &http.Server{
		Addr: m.ListenAddr,
		Handler: api.NewHTTPHandler(state, sched, publisher,
			m.APIToken, cfg.Thresholds, m.Schedule.SendImmediately, log),
	}
	go func() {
		log.Info("master API listening", zap.String("addr", m.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http listen failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}
