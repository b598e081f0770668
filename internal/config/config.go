// Package config loads and validates the single YAML configuration file
// shared by the master, node, and single-run modes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/status"
)

const (
	DefaultListenAddr         = ":8080"
	DefaultPrefsDB            = "./data/prefs"
	DefaultIntervalMinutes    = 60
	DefaultNodeTimeoutMinutes = 120
	DefaultLanguage           = "en"
	DefaultViewMode           = models.ViewCompact
	DefaultSpeedtestTimeout   = 60
	DefaultRetryCount         = 3
	DefaultRetryDelaySec      = 5
	DefaultSendRatePerSecond  = 20
	DefaultEventSubject       = "speedwatch.report.received"
)

// Environment overrides for secrets so they can stay out of the YAML file.
const (
	EnvBotToken = "SPEEDWATCH_BOT_TOKEN"
	EnvAPIToken = "SPEEDWATCH_API_TOKEN"
)

// Config is the root of the YAML file. Master and Node are optional
// sections; which one is required depends on the mode.
type Config struct {
	Mode       string            `yaml:"mode"`
	Logging    LoggingConfig     `yaml:"logging"`
	Thresholds status.Thresholds `yaml:"thresholds"`
	Telegram   TelegramConfig    `yaml:"telegram"`
	Speedtest  SpeedtestConfig   `yaml:"speedtest"`
	Server     ServerConfig      `yaml:"server"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	Master     *MasterConfig     `yaml:"master,omitempty"`
	Node       *NodeConfig       `yaml:"node,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	Traces bool `yaml:"traces"`
}

// TelegramConfig configures the outbound dispatch client. ChatIDs is the
// recipient list for single mode; the master declares recipients with
// per-chat defaults under master.recipients instead.
type TelegramConfig struct {
	BotToken      string   `yaml:"bot_token"`
	APIBaseURL    string   `yaml:"api_base_url"`
	ChatIDs       []string `yaml:"chat_ids"`
	SendAlways    bool     `yaml:"send_always"`
	RatePerSecond int      `yaml:"rate_per_second"`
}

// SpeedtestConfig controls the external speedtest CLI invocation.
type SpeedtestConfig struct {
	TimeoutSec    int   `yaml:"timeout_sec"`
	RetryCount    int   `yaml:"retry_count"`
	RetryDelaySec int   `yaml:"retry_delay_sec"`
	Servers       []int `yaml:"servers"`
}

// ServerConfig identifies this host in single-mode reports.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Location    string `yaml:"location"`
	Identifier  string `yaml:"identifier"`
	Description string `yaml:"description"`
}

// RecipientConfig declares a digest recipient and its preference defaults.
type RecipientConfig struct {
	ChatID          string `yaml:"chat_id"`
	DefaultLanguage string `yaml:"default_language"`
	DefaultViewMode string `yaml:"default_view_mode"`
}

// ScheduleConfig controls digest timing.
type ScheduleConfig struct {
	IntervalMinutes int  `yaml:"interval_minutes"`
	SendImmediately bool `yaml:"send_immediately"`
}

// EventsConfig configures the optional NATS event publisher. An empty URL
// disables publishing.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// MasterConfig is used by the aggregating master process.
type MasterConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIToken   string `yaml:"api_token"`
	PrefsDB    string `yaml:"prefs_db"`
	// Deprecated: use schedule.interval_minutes. Kept for old configs.
	AggregationIntervalMinutes int                        `yaml:"aggregation_interval_minutes"`
	NodeTimeoutMinutes         int                        `yaml:"node_timeout_minutes"`
	NodesOrder                 []string                   `yaml:"nodes_order"`
	NodesMeta                  map[string]models.NodeMeta `yaml:"nodes_meta"`
	Recipients                 []RecipientConfig          `yaml:"recipients"`
	Schedule                   *ScheduleConfig            `yaml:"schedule,omitempty"`
	Events                     EventsConfig               `yaml:"events"`
}

// NodeConfig is used by the reporting agent process.
type NodeConfig struct {
	NodeID      string `yaml:"node_id"`
	Description string `yaml:"description"`
	MasterURL   string `yaml:"master_url"`
	APIToken    string `yaml:"api_token"`
}

// Interval returns the digest period.
func (m *MasterConfig) Interval() time.Duration {
	return time.Duration(m.Schedule.IntervalMinutes) * time.Minute
}

// StaleWindow returns the maximum report age before a node renders as stale.
func (m *MasterConfig) StaleWindow() time.Duration {
	return time.Duration(m.NodeTimeoutMinutes) * time.Minute
}

// Load reads and parses a YAML config file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if v := os.Getenv(EnvBotToken); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		if cfg.Master != nil {
			cfg.Master.APIToken = v
		}
		if cfg.Node != nil {
			cfg.Node.APIToken = v
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "single"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Thresholds == (status.Thresholds{}) {
		cfg.Thresholds = status.Thresholds{VeryLow: 50, Low: 200, Medium: 500, Good: 1000}
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = DefaultSendRatePerSecond
	}
	if cfg.Speedtest.TimeoutSec == 0 {
		cfg.Speedtest.TimeoutSec = DefaultSpeedtestTimeout
	}
	if cfg.Speedtest.RetryCount == 0 {
		cfg.Speedtest.RetryCount = DefaultRetryCount
	}
	if cfg.Speedtest.RetryDelaySec == 0 {
		cfg.Speedtest.RetryDelaySec = DefaultRetryDelaySec
	}

	if m := cfg.Master; m != nil {
		if m.ListenAddr == "" {
			m.ListenAddr = DefaultListenAddr
		}
		if m.PrefsDB == "" {
			m.PrefsDB = DefaultPrefsDB
		}
		if m.NodeTimeoutMinutes == 0 {
			m.NodeTimeoutMinutes = DefaultNodeTimeoutMinutes
		}
		if m.AggregationIntervalMinutes == 0 {
			m.AggregationIntervalMinutes = DefaultIntervalMinutes
		}
		// Old configs carry only aggregation_interval_minutes; they also
		// expect a digest after every report, so immediate send stays on.
		if m.Schedule == nil {
			m.Schedule = &ScheduleConfig{
				IntervalMinutes: m.AggregationIntervalMinutes,
				SendImmediately: true,
			}
		}
		if m.Schedule.IntervalMinutes == 0 {
			m.Schedule.IntervalMinutes = DefaultIntervalMinutes
		}
		if m.Events.Subject == "" {
			m.Events.Subject = DefaultEventSubject
		}
		for i := range m.Recipients {
			if m.Recipients[i].DefaultLanguage == "" {
				m.Recipients[i].DefaultLanguage = DefaultLanguage
			}
			if m.Recipients[i].DefaultViewMode == "" {
				m.Recipients[i].DefaultViewMode = DefaultViewMode
			}
		}
		for id, meta := range m.NodesMeta {
			if meta.NodeID == "" {
				meta.NodeID = id
				m.NodesMeta[id] = meta
			}
		}
	}
}

// Validate rejects configurations that cannot run.
func Validate(cfg Config) error {
	switch cfg.Mode {
	case "master", "node", "single":
	default:
		return fmt.Errorf("mode must be master, node, or single, got %q", cfg.Mode)
	}

	th := cfg.Thresholds
	if th.VeryLow <= 0 || th.Low <= th.VeryLow || th.Medium <= th.Low || th.Good <= th.Medium {
		return fmt.Errorf("thresholds must be positive and strictly increasing")
	}
	if th.Excellent != 0 && th.Excellent <= th.Good {
		return fmt.Errorf("thresholds.excellent must exceed thresholds.good")
	}

	switch cfg.Mode {
	case "master":
		m := cfg.Master
		if m == nil {
			return fmt.Errorf("master section is required in master mode")
		}
		if m.APIToken == "" {
			return fmt.Errorf("master.api_token is required (or %s)", EnvAPIToken)
		}
		if len(m.Recipients) == 0 {
			return fmt.Errorf("master.recipients must list at least one chat")
		}
		for i, r := range m.Recipients {
			if r.ChatID == "" {
				return fmt.Errorf("recipient %d: chat_id is required", i)
			}
			if r.DefaultViewMode != models.ViewCompact && r.DefaultViewMode != models.ViewDetailed {
				return fmt.Errorf("recipient %d: view mode %q is not compact or detailed", i, r.DefaultViewMode)
			}
		}
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required (or %s)", EnvBotToken)
		}
	case "node":
		n := cfg.Node
		if n == nil {
			return fmt.Errorf("node section is required in node mode")
		}
		if n.NodeID == "" {
			return fmt.Errorf("node.node_id is required")
		}
		if n.MasterURL == "" {
			return fmt.Errorf("node.master_url is required")
		}
		if n.APIToken == "" {
			return fmt.Errorf("node.api_token is required (or %s)", EnvAPIToken)
		}
	case "single":
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required (or %s)", EnvBotToken)
		}
		if len(cfg.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("telegram.chat_ids must list at least one chat in single mode")
		}
	}

	return nil
}
