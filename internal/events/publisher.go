// Package events publishes report-received notifications to NATS for
// downstream consumers (dashboards, alerting). Publishing is best-effort and
// never blocks or fails ingestion.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/models"
)

// Publisher wraps a NATS connection. A nil *Publisher is valid and publishes
// nothing, so callers need no enabled-check.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

func NewPublisher(url, subject string, log *zap.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("speedwatch-master"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, subject: subject, log: log}, nil
}

// ReportReceived is the event payload for an accepted report.
type ReportReceived struct {
	NodeID       string    `json:"node_id"`
	DownloadMbps float64   `json:"download_mbps"`
	Tier         string    `json:"tier"`
	ReceivedAt   time.Time `json:"received_at"`
}

// PublishReport emits a report-received event.
func (p *Publisher) PublishReport(ctx context.Context, r models.Report, tier string) error {
	if p == nil {
		return nil
	}
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(ReportReceived{
		NodeID:       r.NodeID,
		DownloadMbps: r.DownloadMbps,
		Tier:         tier,
		ReceivedAt:   r.ReceivedAt,
	})
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, payload)
}

func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}
