// Package api exposes the master's HTTP surface: report ingestion, health,
// and Prometheus metrics.
package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/aggregator"
	"github.com/speedwatch/speedwatch/internal/events"
	"github.com/speedwatch/speedwatch/internal/metrics"
	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/scheduler"
	"github.com/speedwatch/speedwatch/internal/status"
)

// Handler serves the master API.
type Handler struct {
	state      *aggregator.StateStore
	sched      *scheduler.Scheduler
	publisher  *events.Publisher
	token      string
	thresholds status.Thresholds
	immediate  bool
	log        *zap.Logger
}

// NewHTTPHandler builds the master mux. publisher may be nil; sched may be
// nil in tests that only exercise validation.
func NewHTTPHandler(state *aggregator.StateStore, sched *scheduler.Scheduler, publisher *events.Publisher,
	token string, th status.Thresholds, sendImmediately bool, log *zap.Logger) http.Handler {

	h := &Handler{
		state:      state,
		sched:      sched,
		publisher:  publisher,
		token:      token,
		thresholds: th,
		immediate:  sendImmediately,
		log:        log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/report", h.handleReport)
	mux.HandleFunc("/health", h.handleHealth)
	metrics.Register(mux)
	return mux
}

// reportPayload is the ingest wire format. The three measurements are
// pointers so a missing field is distinguishable from zero.
type reportPayload struct {
	NodeID       string   `json:"node_id"`
	DownloadMbps *float64 `json:"download_mbps"`
	UploadMbps   *float64 `json:"upload_mbps"`
	PingMs       *float64 `json:"ping_ms"`
	Status       string   `json:"status"`
	TestServer   string   `json:"test_server"`
	ISP          string   `json:"isp"`
	Location     string   `json:"location"`
	OSInfo       string   `json:"os_info"`
	Description  string   `json:"description"`
	Timestamp    string   `json:"timestamp"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(h.log, w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	ctx, span := otel.Tracer("speedwatch/api").Start(r.Context(), "report.ingest")
	defer span.End()

	// Auth first: reject before reading anything else, constant-time, and
	// without echoing what was presented.
	if !h.tokenMatches(r.Header.Get("Authorization")) {
		metrics.ReportsRejected.WithLabelValues(metrics.ReasonAuth).Inc()
		h.log.Warn("unauthorized report rejected", zap.String("remote", r.RemoteAddr))
		writeError(h.log, w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var p reportPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		metrics.ReportsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		writeError(h.log, w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if reason := validate(p); reason != "" {
		metrics.ReportsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		writeError(h.log, w, http.StatusBadRequest, reason)
		return
	}

	// Server clock, not the node-claimed timestamp, drives staleness.
	now := time.Now().UTC()
	report := models.Report{
		NodeID:       p.NodeID,
		DownloadMbps: *p.DownloadMbps,
		UploadMbps:   *p.UploadMbps,
		PingMs:       *p.PingMs,
		Status:       p.Status,
		TestServer:   p.TestServer,
		ISP:          p.ISP,
		Location:     p.Location,
		OSInfo:       p.OSInfo,
		Description:  p.Description,
		CapturedAt:   now,
		ReceivedAt:   now,
	}
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			report.CapturedAt = ts
		}
	}

	tier := status.Classify(report.DownloadMbps, h.thresholds)
	span.SetAttributes(
		attribute.String("node.id", report.NodeID),
		attribute.String("node.tier", tier.String()),
	)

	h.state.Put(report)
	metrics.ReportsAccepted.Inc()
	h.log.Info("report received",
		zap.String("node_id", report.NodeID),
		zap.Float64("download_mbps", report.DownloadMbps),
		zap.String("tier", tier.String()))

	if err := h.publisher.PublishReport(ctx, report, tier.String()); err != nil {
		h.log.Warn("event publish failed", zap.String("node_id", report.NodeID), zap.Error(err))
	}

	// The digest happens off the request path; its failure is the
	// scheduler's to log, never this node's problem.
	if h.immediate && h.sched != nil {
		h.sched.TriggerNow()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"node_id": report.NodeID,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mode":   "master",
	})
}

// tokenMatches compares the bearer token in constant time. Both sides are
// hashed first so length differences leak nothing either.
func (h *Handler) tokenMatches(authHeader string) bool {
	presented := sha256.Sum256([]byte(authHeader))
	expected := sha256.Sum256([]byte("Bearer " + h.token))
	return subtle.ConstantTimeCompare(presented[:], expected[:]) == 1
}

// validate returns a rejection reason, or empty for a valid payload.
func validate(p reportPayload) string {
	if p.NodeID == "" {
		return "node_id required"
	}
	for _, f := range []struct {
		name  string
		value *float64
	}{
		{"download_mbps", p.DownloadMbps},
		{"upload_mbps", p.UploadMbps},
		{"ping_ms", p.PingMs},
	} {
		if f.value == nil {
			return f.name + " required"
		}
		if v := *f.value; v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return f.name + " must be a non-negative finite number"
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(log *zap.Logger, w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, map[string]string{"error": msg})
	log.Debug("request rejected", zap.Int("code", statusCode), zap.String("reason", msg))
}
