package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/speedwatch/speedwatch/internal/config"
)

const version = "2.0.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "speedwatch",
	Short:   "Distributed internet speed monitoring with Telegram digests",
	Version: version,
	Long: `speedwatch collects periodic speed measurements from nodes, aggregates
the latest report per node on a master, and sends localized digest messages
to Telegram recipients on a schedule or immediately on update.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(masterCmd, nodeCmd, singleCmd)
}

// setup loads the config and builds the logger every subcommand shares.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	lvl, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logging.level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	log, err := zcfg.Build()
	if err != nil {
		return config.Config{}, nil, err
	}

	log.Info("speedwatch starting",
		zap.String("version", version),
		zap.String("config", cfgFile),
		zap.String("mode", cfg.Mode))
	return cfg, log, nil
}
