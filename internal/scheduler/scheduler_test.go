package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/aggregator"
	"github.com/speedwatch/speedwatch/internal/config"
	"github.com/speedwatch/speedwatch/internal/models"
	"github.com/speedwatch/speedwatch/internal/status"
	"github.com/speedwatch/speedwatch/internal/storage"
)

type fakePrefs struct {
	mu sync.Mutex
	m  map[string]models.RecipientPref
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{m: make(map[string]models.RecipientPref)}
}

func (f *fakePrefs) GetOrDefault(id string, def storage.Defaults) (models.RecipientPref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.m[id]; ok {
		return p, nil
	}
	p := models.RecipientPref{RecipientID: id, Language: def.Language, ViewMode: def.ViewMode}
	f.m[id] = p
	return p, nil
}

func (f *fakePrefs) SetLanguage(id, lang string, def storage.Defaults) (models.RecipientPref, error) {
	p, _ := f.GetOrDefault(id, def)
	f.mu.Lock()
	defer f.mu.Unlock()
	p.Language = lang
	f.m[id] = p
	return p, nil
}

func (f *fakePrefs) SetViewMode(id, mode string, def storage.Defaults) (models.RecipientPref, error) {
	p, _ := f.GetOrDefault(id, def)
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ViewMode = mode
	f.m[id] = p
	return p, nil
}

func (f *fakePrefs) Close() error { return nil }

type fakeDispatcher struct {
	mu     sync.Mutex
	sent   map[string][]string
	failFn func(chatID string) error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{sent: make(map[string][]string)}
}

func (d *fakeDispatcher) SendMessage(_ context.Context, chatID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFn != nil {
		if err := d.failFn(chatID); err != nil {
			return err
		}
	}
	d.sent[chatID] = append(d.sent[chatID], text)
	return nil
}

func (d *fakeDispatcher) messages(chatID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent[chatID]...)
}

func testMasterConfig() *config.MasterConfig {
	return &config.MasterConfig{
		NodeTimeoutMinutes: 120,
		NodesOrder:         []string{"fin"},
		NodesMeta: map[string]models.NodeMeta{
			"fin": {NodeID: "fin", Flag: "🇫🇮", DisplayName: "Finland"},
		},
		Recipients: []config.RecipientConfig{
			{ChatID: "A", DefaultLanguage: "ru", DefaultViewMode: models.ViewCompact},
			{ChatID: "B", DefaultLanguage: "ru", DefaultViewMode: models.ViewCompact},
		},
		Schedule: &config.ScheduleConfig{IntervalMinutes: 60, SendImmediately: true},
	}
}

var testThresholds = status.Thresholds{VeryLow: 50, Low: 200, Medium: 500, Good: 1000}

func newTestScheduler(d Dispatcher) (*Scheduler, *aggregator.StateStore, *fakePrefs) {
	cfg := testMasterConfig()
	state := aggregator.New(cfg.NodesMeta, zap.NewNop())
	prefs := newFakePrefs()
	s := New(state, prefs, d, cfg, testThresholds, zap.NewNop())
	return s, state, prefs
}

func TestDispatchRoundReachesAllRecipients(t *testing.T) {
	d := newFakeDispatcher()
	s, state, _ := newTestScheduler(d)

	state.Put(models.Report{NodeID: "fin", DownloadMbps: 800, ReceivedAt: time.Now()})
	s.dispatchRound(context.Background())

	for _, chat := range []string{"A", "B"} {
		if len(d.messages(chat)) != 1 {
			t.Fatalf("chat %s got %d digests, want 1", chat, len(d.messages(chat)))
		}
	}
}

func TestRecipientFailureDoesNotBlockOthers(t *testing.T) {
	d := newFakeDispatcher()
	d.failFn = func(chatID string) error {
		if chatID == "A" {
			return errors.New("telegram unreachable")
		}
		return nil
	}
	s, state, _ := newTestScheduler(d)

	state.Put(models.Report{NodeID: "fin", DownloadMbps: 800, ReceivedAt: time.Now()})
	s.dispatchRound(context.Background())

	if len(d.messages("A")) != 0 {
		t.Fatal("chat A should have failed")
	}
	if len(d.messages("B")) != 1 {
		t.Fatal("chat B must still receive its digest")
	}
}

func TestPerRecipientLanguageInSameRound(t *testing.T) {
	d := newFakeDispatcher()
	s, state, prefs := newTestScheduler(d)

	// Recipient A explicitly switches to English; B stays on the default.
	if _, err := prefs.SetLanguage("A", "en", storage.Defaults{Language: "ru", ViewMode: models.ViewCompact}); err != nil {
		t.Fatal(err)
	}

	state.Put(models.Report{NodeID: "fin", DownloadMbps: 10, ReceivedAt: time.Now()})
	s.dispatchRound(context.Background())

	a := d.messages("A")[0]
	b := d.messages("B")[0]
	if !strings.Contains(a, "Internet Speed Report") {
		t.Fatalf("chat A digest not in English:\n%s", a)
	}
	if !strings.Contains(b, "Отчет о скорости интернета") {
		t.Fatalf("chat B digest not in Russian:\n%s", b)
	}
}

func TestTriggerNowCoalesces(t *testing.T) {
	s, _, _ := newTestScheduler(newFakeDispatcher())
	s.TriggerNow()
	s.TriggerNow() // must not block even though nothing consumed the first
	if len(s.trigger) != 1 {
		t.Fatalf("pending triggers = %d, want 1", len(s.trigger))
	}
}

func TestRunDispatchesOnTrigger(t *testing.T) {
	d := newFakeDispatcher()
	s, state, _ := newTestScheduler(d)
	state.Put(models.Report{NodeID: "fin", DownloadMbps: 800, ReceivedAt: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.TriggerNow()

	deadline := time.After(2 * time.Second)
	for len(d.messages("A")) == 0 {
		select {
		case <-deadline:
			t.Fatal("trigger did not produce a dispatch round")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestDigestForUsesStoredPreference(t *testing.T) {
	s, state, prefs := newTestScheduler(newFakeDispatcher())
	state.Put(models.Report{NodeID: "fin", DownloadMbps: 800, ReceivedAt: time.Now()})

	if _, err := prefs.SetViewMode("A", models.ViewDetailed, storage.Defaults{Language: "en", ViewMode: models.ViewCompact}); err != nil {
		t.Fatal(err)
	}
	out, err := s.DigestFor(context.Background(), "A")
	if err != nil {
		t.Fatalf("DigestFor: %v", err)
	}
	if !strings.Contains(out, "Download") {
		t.Fatalf("expected detailed layout:\n%s", out)
	}
}
