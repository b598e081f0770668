// Package aggregator holds the master's in-memory node state and derives
// point-in-time digest views from it.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/status"
)

// StateStore is the shared mutable map of latest reports, one per node.
// Replacement is whole-record and last-writer-wins by arrival; snapshot reads
// observe a consistent point-in-time view.
type StateStore struct {
	log  *zap.Logger
	meta map[string]models.NodeMeta

	mu      sync.RWMutex
	reports map[string]models.Report
	warned  map[string]bool
}

// New creates a state store. meta is the configured display metadata; it is
// only read, never mutated.
func New(meta map[string]models.NodeMeta, log *zap.Logger) *StateStore {
	return &StateStore{
		log:     log,
		meta:    meta,
		reports: make(map[string]models.Report),
		warned:  make(map[string]bool),
	}
}

// Put replaces the node's latest report. Reports are stored by value, so a
// reader can never observe a half-written record.
func (s *StateStore) Put(r models.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, known := s.meta[r.NodeID]; !known && !s.warned[r.NodeID] {
		s.warned[r.NodeID] = true
		s.log.Warn("report from node missing in nodes_meta, add a config stanza",
			zap.String("node_id", r.NodeID),
			zap.String("suggested", r.NodeID+": {flag: \"🏳️\", display_name: \"Node "+r.NodeID+"\"}"))
	}

	s.reports[r.NodeID] = r
}

// Get returns the latest report for a node, if any.
func (s *StateStore) Get(nodeID string) (models.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[nodeID]
	return r, ok
}

// Snapshot copies the current state under the read lock.
func (s *StateStore) Snapshot() map[string]models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Report, len(s.reports))
	for id, r := range s.reports {
		out[id] = r
	}
	return out
}

// Meta returns the configured display metadata for a node.
func (s *StateStore) Meta(nodeID string) (models.NodeMeta, bool) {
	m, ok := s.meta[nodeID]
	return m, ok
}

// BuildView derives the digest input from a state snapshot. It is a pure
// function of its arguments: now is passed in so the renderer downstream
// never has to read a clock.
//
// Node order is the configured order first, then any extra nodes that have
// reported, sorted by id. A node past the staleness window (or one that has
// never reported) is offline but keeps its last report for inspection.
func BuildView(snapshot map[string]models.Report, order []string, meta map[string]models.NodeMeta,
	th status.Thresholds, staleWindow time.Duration, now time.Time) models.AggregatedView {

	all := make(map[string]bool, len(meta)+len(snapshot))
	for id := range meta {
		all[id] = true
	}
	for id := range snapshot {
		all[id] = true
	}

	ordered := make([]string, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, id := range order {
		if all[id] && !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range all {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	view := models.AggregatedView{
		GeneratedAt: now,
		Entries:     make([]models.NodeEntry, 0, len(ordered)),
		Summary: map[string]int{
			status.NodeOK:       0,
			status.NodeDegraded: 0,
			status.NodeOffline:  0,
		},
	}

	var tiers []status.Tier
	anyStale := false

	for _, id := range ordered {
		entry := models.NodeEntry{Meta: metaOrDefault(meta, id)}

		if r, ok := snapshot[id]; ok {
			rc := r
			entry.Report = &rc
			age := now.Sub(r.ReceivedAt)
			if age <= staleWindow {
				entry.Online = true
				tier := status.Classify(r.DownloadMbps, th)
				entry.Tier = tier.String()
				entry.AgeMinutes = int(age.Minutes())
				tiers = append(tiers, tier)
			}
		}
		if !entry.Online {
			anyStale = true
		}

		view.Summary[status.DeriveNode(tierOrFloor(entry.Tier), entry.Online)]++
		view.Entries = append(view.Entries, entry)
	}

	view.ClusterStatus = status.ClusterStatus(tiers, anyStale)
	return view
}

func metaOrDefault(meta map[string]models.NodeMeta, id string) models.NodeMeta {
	if m, ok := meta[id]; ok {
		if m.NodeID == "" {
			m.NodeID = id
		}
		return m
	}
	return models.NodeMeta{NodeID: id}
}

func tierOrFloor(name string) status.Tier {
	t, err := status.TierFromString(name)
	if err != nil {
		return status.TierVeryLow
	}
	return t
}
