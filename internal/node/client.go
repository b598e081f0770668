package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/config"
	"github.com/speedwatch/speedwatch/internal/models"
)

const submitTimeout = 30 * time.Second

// Client submits reports to the master's ingest endpoint.
type Client struct {
	cfg  config.NodeConfig
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg config.NodeConfig, log *zap.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: submitTimeout},
		log:  log,
	}
}

// Submit POSTs one report with the bearer token. A non-200 answer is an
// error; the body is included so the operator sees the master's reason.
func (c *Client) Submit(ctx context.Context, r models.Report) error {
	payload := map[string]any{
		"node_id":       r.NodeID,
		"download_mbps": r.DownloadMbps,
		"upload_mbps":   r.UploadMbps,
		"ping_ms":       r.PingMs,
		"status":        r.Status,
		"test_server":   r.TestServer,
		"isp":           r.ISP,
		"os_info":       r.OSInfo,
		"description":   r.Description,
		"timestamp":     r.CapturedAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MasterURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("master rejected report: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	c.log.Info("report submitted", zap.String("node_id", r.NodeID), zap.String("master", c.cfg.MasterURL))
	return nil
}
