package aggregator

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/status"
)

var th = status.Thresholds{VeryLow: 50, Low: 200, Medium: 500, Good: 1000}

func testMeta() map[string]models.NodeMeta {
	return map[string]models.NodeMeta{
		"fin": {NodeID: "fin", Flag: "🇫🇮", DisplayName: "Finland"},
		"lv":  {NodeID: "lv", Flag: "🇱🇻", DisplayName: "Latvia"},
	}
}

func report(nodeID string, download float64, received time.Time) models.Report {
	return models.Report{
		NodeID:       nodeID,
		DownloadMbps: download,
		UploadMbps:   download / 3,
		PingMs:       20,
		ReceivedAt:   received,
	}
}

func TestPutLastWriterWinsWholeRecord(t *testing.T) {
	s := New(testMeta(), zap.NewNop())
	now := time.Now()

	r1 := report("fin", 120.4, now)
	r1.ISP = "first-isp"
	r2 := report("fin", 300, now.Add(time.Second))
	r2.ISP = "second-isp"

	s.Put(r1)
	s.Put(r2)

	got, ok := s.Get("fin")
	if !ok {
		t.Fatal("report missing after put")
	}
	if got != r2 {
		t.Fatalf("state = %+v, want exactly the second report", got)
	}
}

func TestConcurrentPutsNeverBlendFields(t *testing.T) {
	s := New(testMeta(), zap.NewNop())
	now := time.Now()

	a := report("lv", 10, now)
	a.UploadMbps = 1
	a.ISP = "isp-a"
	b := report("lv", 200, now)
	b.UploadMbps = 2
	b.ISP = "isp-b"

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.Put(a) }()
		go func() { defer wg.Done(); s.Put(b) }()
	}
	wg.Wait()

	got, _ := s.Get("lv")
	if got != a && got != b {
		t.Fatalf("stored report is a blend: %+v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(testMeta(), zap.NewNop())
	s.Put(report("fin", 100, time.Now()))

	snap := s.Snapshot()
	delete(snap, "fin")

	if _, ok := s.Get("fin"); !ok {
		t.Fatal("mutating a snapshot must not touch the store")
	}
}

func TestBuildViewNeverReportedNodeIsOffline(t *testing.T) {
	now := time.Now()
	view := BuildView(map[string]models.Report{}, []string{"fin", "lv"}, testMeta(), th, 2*time.Hour, now)

	if len(view.Entries) != 2 {
		t.Fatalf("entries = %d, want 2 configured nodes", len(view.Entries))
	}
	for _, e := range view.Entries {
		if e.Online || e.Report != nil {
			t.Fatalf("node %s should be offline with no report", e.Meta.NodeID)
		}
	}
	if view.Summary[status.NodeOffline] != 2 {
		t.Fatalf("summary = %v", view.Summary)
	}
	if view.ClusterStatus != status.ClusterDegraded {
		t.Fatalf("cluster = %q, want degraded", view.ClusterStatus)
	}
}

func TestBuildViewStaleWindow(t *testing.T) {
	now := time.Now()
	snap := map[string]models.Report{
		"fin": report("fin", 800, now.Add(-30*time.Minute)),
		"lv":  report("lv", 800, now.Add(-3*time.Hour)),
	}
	view := BuildView(snap, []string{"fin", "lv"}, testMeta(), th, 2*time.Hour, now)

	fin, lv := view.Entries[0], view.Entries[1]
	if !fin.Online || fin.Tier != "medium" || fin.AgeMinutes != 30 {
		t.Fatalf("fin = %+v", fin)
	}
	if lv.Online {
		t.Fatal("lv is past the staleness window and must render offline")
	}
	if lv.Report == nil {
		t.Fatal("stale node keeps its last report for inspection")
	}
	if view.ClusterStatus != status.ClusterDegraded {
		t.Fatalf("stale node should degrade the cluster, got %q", view.ClusterStatus)
	}
}

func TestBuildViewOrderingConfiguredThenLexical(t *testing.T) {
	now := time.Now()
	snap := map[string]models.Report{
		"zz":  report("zz", 100, now),
		"aa":  report("aa", 100, now),
		"fin": report("fin", 100, now),
	}
	view := BuildView(snap, []string{"lv", "fin"}, testMeta(), th, time.Hour, now)

	var ids []string
	for _, e := range view.Entries {
		ids = append(ids, e.Meta.NodeID)
	}
	want := []string{"lv", "fin", "aa", "zz"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestBuildViewAllHealthy(t *testing.T) {
	now := time.Now()
	snap := map[string]models.Report{
		"fin": report("fin", 1200, now),
		"lv":  report("lv", 600, now),
	}
	view := BuildView(snap, []string{"fin", "lv"}, testMeta(), th, time.Hour, now)

	if view.ClusterStatus != status.ClusterOK {
		t.Fatalf("cluster = %q, want ok", view.ClusterStatus)
	}
	if view.Summary[status.NodeOK] != 2 {
		t.Fatalf("summary = %v", view.Summary)
	}
	if view.Entries[0].Tier != "good" || view.Entries[1].Tier != "medium" {
		t.Fatalf("tiers = %q, %q", view.Entries[0].Tier, view.Entries[1].Tier)
	}
}
