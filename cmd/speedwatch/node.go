package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/config"
	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/node"
	"github.com/speedwatch/speedwatch/internal/status"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run one measurement and report it to the master",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()
		if cfg.Mode != "node" || cfg.Node == nil {
			return fmt.Errorf("config mode is %q, node section required", cfg.Mode)
		}
		return runNode(cfg, log)
	},
}

func runNode(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()

	runner := node.NewRunner(cfg.Speedtest, log)
	log.Info("running speedtest", zap.String("node_id", cfg.Node.NodeID))
	res := runner.Run(ctx)

	tier := "failed"
	if res.Success {
		tier = status.Classify(res.DownloadMbps, cfg.Thresholds).String()
	} else {
		log.Warn("speedtest failed, reporting failure", zap.String("error", res.ErrorMessage))
	}

	report := models.Report{
		NodeID:       cfg.Node.NodeID,
		DownloadMbps: res.DownloadMbps,
		UploadMbps:   res.UploadMbps,
		PingMs:       res.PingMs,
		Status:       tier,
		TestServer:   res.ServerName,
		ISP:          res.ISP,
		OSInfo:       node.OSInfo(),
		Description:  cfg.Node.Description,
		CapturedAt:   time.Now().UTC(),
	}

	client := node.NewClient(*cfg.Node, log)
	if err := client.Submit(ctx, report); err != nil {
		return fmt.Errorf("node cycle failed: %w", err)
	}
	log.Info("node cycle complete", zap.String("tier", tier))
	return nil
}
