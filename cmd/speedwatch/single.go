package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/config"
	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/node"
	"github.com/speedwatch/speedwatch/internal/render"
	"github.com/speedwatch/speedwatch/internal/status"
	"github.com/speedwatch/speedwatch/internal/telegram"
)

var singleCmd = &cobra.Command{
	Use:   "single",
	Short: "Run one measurement and send the report straight to Telegram",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		return runSingle(cfg, log)
	},
}

func runSingle(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()

	runner := node.NewRunner(cfg.Speedtest, log)
	res := runner.Run(ctx)

	tier := status.Classify(res.DownloadMbps, cfg.Thresholds)

	// Quiet mode: skip the notification when the speed is fine. Failures are
	// always reported.
	if res.Success && !cfg.Telegram.SendAlways && tier >= status.TierLow {
		log.Info("speed above alert threshold, notification skipped",
			zap.String("tier", tier.String()))
		return nil
	}

	report := models.Report{
		DownloadMbps: res.DownloadMbps,
		UploadMbps:   res.UploadMbps,
		PingMs:       res.PingMs,
		TestServer:   res.ServerName,
		ISP:          res.ISP,
	}
	identity := render.Identity{
		Name:        hostOrConfigured(cfg.Server.Name),
		Location:    cfg.Server.Location,
		ID:          hostOrConfigured(cfg.Server.Identifier),
		Description: cfg.Server.Description,
		OSInfo:      node.OSInfo(),
		Timestamp:   time.Now().Format("2006-01-02 15:04:05"),
	}

	text := render.Single(report, tier.String(), res.ErrorMessage, identity, render.DefaultLanguage, models.ViewDetailed)

	tg := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIBaseURL, cfg.Telegram.RatePerSecond, log)
	var failed int
	for _, chatID := range cfg.Telegram.ChatIDs {
		if err := tg.SendMessage(ctx, chatID, text); err != nil {
			failed++
			log.Error("notification failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	if failed == len(cfg.Telegram.ChatIDs) {
		return fmt.Errorf("all %d notifications failed", failed)
	}
	return nil
}

func hostOrConfigured(v string) string {
	if v == "" || v == "auto" {
		if h, err := os.Hostname(); err == nil {
			return h
		}
		return "unknown"
	}
	return v
}
