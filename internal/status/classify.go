// Package status classifies speed measurements into discrete tiers and
// reduces per-node tiers to an overall cluster status. Every function here is
// pure and total: no error paths, no clock reads, no shared state.
package status

import "fmt"

// Tier is an ordered download-speed classification.
type Tier int

const (
	TierVeryLow Tier = iota
	TierLow
	TierMedium
	TierGood
	TierExcellent
)

var tierNames = [...]string{"very_low", "low", "medium", "good", "excellent"}

func (t Tier) String() string {
	if t < TierVeryLow || t > TierExcellent {
		return "unknown"
	}
	return tierNames[t]
}

// TierFromString parses a tier name as reported by a node. Empty input maps
// to the lowest tier so stored reports from older nodes stay renderable.
func TierFromString(s string) (Tier, error) {
	if s == "" {
		return TierVeryLow, nil
	}
	for i, name := range tierNames {
		if s == name {
			return Tier(i), nil
		}
	}
	return TierVeryLow, fmt.Errorf("unknown tier %q", s)
}

// Thresholds are monotonically increasing lower bounds, in Mbps, for each
// tier above the floor. Excellent is optional: zero disables the tier.
type Thresholds struct {
	VeryLow   float64 `yaml:"very_low"`
	Low       float64 `yaml:"low"`
	Medium    float64 `yaml:"medium"`
	Good      float64 `yaml:"good"`
	Excellent float64 `yaml:"excellent"`
}

// Classify picks the highest tier whose lower bound is met by the download
// speed. A value below every bound classifies as the floor tier, so the
// function is total. Upload and ping do not influence the tier.
func Classify(downloadMbps float64, th Thresholds) Tier {
	switch {
	case th.Excellent > 0 && downloadMbps >= th.Excellent:
		return TierExcellent
	case downloadMbps >= th.Good:
		return TierGood
	case downloadMbps >= th.Medium:
		return TierMedium
	case downloadMbps >= th.Low:
		return TierLow
	default:
		return TierVeryLow
	}
}

// Cluster statuses.
const (
	ClusterOK       = "ok"
	ClusterDegraded = "degraded"
)

// Per-node derived statuses used in digest summaries.
const (
	NodeOK       = "ok"
	NodeDegraded = "degraded"
	NodeOffline  = "offline"
)

// DeriveNode maps a node's tier and freshness to its summary status.
func DeriveNode(tier Tier, online bool) string {
	switch {
	case !online:
		return NodeOffline
	case tier < TierLow:
		return NodeDegraded
	default:
		return NodeOK
	}
}

// ClusterStatus reduces per-node tiers plus a staleness flag to a binary
// cluster status: degraded if any node is stale or below the low tier.
// Order of tiers does not matter.
func ClusterStatus(tiers []Tier, anyStale bool) string {
	if anyStale {
		return ClusterDegraded
	}
	for _, t := range tiers {
		if t < TierLow {
			return ClusterDegraded
		}
	}
	return ClusterOK
}
