// Package node implements the reporting agent: it runs the external
// speedtest CLI and submits the result to the master.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/config"
)

// Candidate binaries, tried in order. Ookla's CLI first, the Python
// speedtest-cli as fallback; both speak JSON.
var speedtestCommands = []string{"speedtest", "speedtest-cli"}

// Result is one local measurement, before classification.
type Result struct {
	Success      bool
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	ServerName   string
	ServerHost   string
	ISP          string
	ErrorMessage string
}

// Runner invokes the speedtest CLI with retries.
type Runner struct {
	cfg config.SpeedtestConfig
	log *zap.Logger

	// execCommand is swapped in tests.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewRunner(cfg config.SpeedtestConfig, log *zap.Logger) *Runner {
	return &Runner{cfg: cfg, log: log, execCommand: exec.CommandContext}
}

// ooklaOutput matches `speedtest --format=json`. Bandwidth is bytes/sec.
type ooklaOutput struct {
	Ping struct {
		Latency float64 `json:"latency"`
	} `json:"ping"`
	Download struct {
		Bandwidth float64 `json:"bandwidth"`
	} `json:"download"`
	Upload struct {
		Bandwidth float64 `json:"bandwidth"`
	} `json:"upload"`
	ISP    string `json:"isp"`
	Server struct {
		Name     string `json:"name"`
		Location string `json:"location"`
		Host     string `json:"host"`
	} `json:"server"`
}

// legacyOutput matches `speedtest-cli --json`. Speeds are bits/sec.
type legacyOutput struct {
	Ping     float64 `json:"ping"`
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
	Client   struct {
		ISP string `json:"isp"`
	} `json:"client"`
	Server struct {
		Sponsor string `json:"sponsor"`
		Name    string `json:"name"`
		Host    string `json:"host"`
	} `json:"server"`
}

// Run measures once, retrying up to the configured count with a fixed delay.
// It never returns an error: a measurement that keeps failing yields a
// Result with Success=false so the failure itself can be reported.
func (r *Runner) Run(ctx context.Context) Result {
	var last Result
	for attempt := 1; attempt <= r.cfg.RetryCount; attempt++ {
		last = r.runOnce(ctx)
		if last.Success {
			return last
		}
		r.log.Warn("speedtest attempt failed",
			zap.Int("attempt", attempt), zap.String("error", last.ErrorMessage))
		if attempt < r.cfg.RetryCount {
			select {
			case <-time.After(time.Duration(r.cfg.RetryDelaySec) * time.Second):
			case <-ctx.Done():
				last.ErrorMessage = ctx.Err().Error()
				return last
			}
		}
	}
	return last
}

func (r *Runner) runOnce(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSec)*time.Second)
	defer cancel()

	for _, cmd := range speedtestCommands {
		if _, err := exec.LookPath(cmd); err != nil {
			continue
		}
		switch cmd {
		case "speedtest":
			return r.runOokla(ctx)
		case "speedtest-cli":
			return r.runLegacy(ctx)
		}
	}
	return Result{ErrorMessage: "no speedtest binary found (tried speedtest, speedtest-cli)"}
}

func (r *Runner) runOokla(ctx context.Context) Result {
	args := []string{"--format=json", "--accept-license", "--accept-gdpr"}
	if len(r.cfg.Servers) > 0 {
		args = append(args, "--server-id="+strconv.Itoa(r.cfg.Servers[0]))
	}
	out, err := r.execCommand(ctx, "speedtest", args...).Output()
	if err != nil {
		return Result{ErrorMessage: fmt.Sprintf("speedtest: %v", err)}
	}

	var o ooklaOutput
	if err := json.Unmarshal(out, &o); err != nil {
		return Result{ErrorMessage: fmt.Sprintf("speedtest: bad JSON output: %v", err)}
	}
	return Result{
		Success: true,
		// bytes/s -> Mbit/s
		DownloadMbps: o.Download.Bandwidth * 8 / 1e6,
		UploadMbps:   o.Upload.Bandwidth * 8 / 1e6,
		PingMs:       o.Ping.Latency,
		ServerName:   fmt.Sprintf("%s (%s)", o.Server.Name, o.Server.Location),
		ServerHost:   o.Server.Host,
		ISP:          o.ISP,
	}
}

func (r *Runner) runLegacy(ctx context.Context) Result {
	args := []string{"--json"}
	if len(r.cfg.Servers) > 0 {
		args = append(args, "--server", strconv.Itoa(r.cfg.Servers[0]))
	}
	out, err := r.execCommand(ctx, "speedtest-cli", args...).Output()
	if err != nil {
		return Result{ErrorMessage: fmt.Sprintf("speedtest-cli: %v", err)}
	}

	var o legacyOutput
	if err := json.Unmarshal(out, &o); err != nil {
		return Result{ErrorMessage: fmt.Sprintf("speedtest-cli: bad JSON output: %v", err)}
	}
	return Result{
		Success: true,
		// bits/s -> Mbit/s
		DownloadMbps: o.Download / 1e6,
		UploadMbps:   o.Upload / 1e6,
		PingMs:       o.Ping,
		ServerName:   fmt.Sprintf("%s (%s)", o.Server.Sponsor, o.Server.Name),
		ServerHost:   o.Server.Host,
		ISP:          o.Client.ISP,
	}
}

// OSInfo describes the local host for report metadata.
func OSInfo() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
