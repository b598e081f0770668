package models

import "time"

// Report is the core domain object: one node's latest speed measurement.
// Shared between the API, aggregator, and renderer layers.
type Report struct {
	NodeID       string    `json:"node_id"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       float64   `json:"ping_ms"`
	Status       string    `json:"status,omitempty"`
	TestServer   string    `json:"test_server,omitempty"`
	ISP          string    `json:"isp,omitempty"`
	Location     string    `json:"location,omitempty"`
	OSInfo       string    `json:"os_info,omitempty"`
	Description  string    `json:"description,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	// ReceivedAt is stamped by the master at ingest time. Staleness is
	// computed from it, never from the node-claimed CapturedAt.
	ReceivedAt time.Time `json:"received_at"`
}

// NodeMeta is display metadata for a node, configured on the master
// independently of whether the node has ever reported.
type NodeMeta struct {
	NodeID      string `json:"node_id" yaml:"node_id"`
	Flag        string `json:"flag" yaml:"flag"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// RecipientPref holds one recipient's language and verbosity choice.
type RecipientPref struct {
	RecipientID string    `json:"recipient_id"`
	Language    string    `json:"language"`
	ViewMode    string    `json:"view_mode"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// View modes accepted in RecipientPref.ViewMode.
const (
	ViewCompact  = "compact"
	ViewDetailed = "detailed"
)

// NodeEntry pairs a node's display metadata with its latest report and the
// freshness state derived during view building.
type NodeEntry struct {
	Meta   NodeMeta
	Report *Report
	// Online is true when a report exists and is within the staleness window.
	Online bool
	// Tier is the classified tier of the report; empty when offline.
	Tier string
	// AgeMinutes is the whole minutes since the report was received; only
	// meaningful when Online.
	AgeMinutes int
}

// AggregatedView is the derived, point-in-time digest input. It is computed
// once per dispatch round so the renderer stays a pure function.
type AggregatedView struct {
	GeneratedAt   time.Time
	Entries       []NodeEntry
	Summary       map[string]int
	ClusterStatus string
}
