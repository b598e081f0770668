// Package scheduler drives digest dispatch: a periodic tick plus an optional
// immediate trigger after ingest, both funneled through one goroutine so
// dispatch rounds never overlap.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/speedwatch/speedwatch/internal/aggregator"
	"github.com/speedwatch/speedwatch/internal/config"
	"github.com/speedwatch/speedwatch/internal/metrics"
	"github.com/speedwatch/speedwatch/internal/render"
	"github.com/speedwatch/speedwatch/internal/status"
	"github.com/speedwatch/speedwatch/internal/storage"
)

// Dispatcher sends one rendered digest to one recipient. Satisfied by
// *telegram.Client; tests substitute a fake.
type Dispatcher interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Scheduler owns the dispatch loop. The state store, preference store, and
// dispatcher are injected so each can be faked in tests.
type Scheduler struct {
	state      *aggregator.StateStore
	prefs      storage.PrefStore
	dispatcher Dispatcher
	cfg        *config.MasterConfig
	thresholds status.Thresholds
	log        *zap.Logger

	trigger chan struct{}
}

func New(state *aggregator.StateStore, prefs storage.PrefStore, d Dispatcher,
	cfg *config.MasterConfig, th status.Thresholds, log *zap.Logger) *Scheduler {
	return &Scheduler{
		state:      state,
		prefs:      prefs,
		dispatcher: d,
		cfg:        cfg,
		thresholds: th,
		log:        log,
		trigger:    make(chan struct{}, 1),
	}
}

// TriggerNow requests an immediate dispatch round without blocking the
// caller. A trigger raised while one is already pending coalesces with it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run loops until the context is cancelled. The first scheduled digest fires
// a full interval after start, giving nodes time to populate state. Because
// ticks and triggers are consumed by this single goroutine, a slow dispatch
// round delays the next one instead of running concurrently with it.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.Interval()
	s.log.Info("digest scheduler started",
		zap.Duration("interval", interval),
		zap.Bool("send_immediately", s.cfg.Schedule.SendImmediately),
		zap.Int("recipients", len(s.cfg.Recipients)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("digest scheduler stopped")
			return
		case <-ticker.C:
			s.dispatchRound(ctx)
		case <-s.trigger:
			s.dispatchRound(ctx)
		}
	}
}

// dispatchRound snapshots state once, then renders and dispatches per
// recipient. The state lock is never held across a network call, and one
// recipient's failure never aborts the rest.
func (s *Scheduler) dispatchRound(ctx context.Context) {
	digestID := uuid.NewString()
	ctx, span := otel.Tracer("speedwatch/scheduler").Start(ctx, "digest.round")
	span.SetAttributes(attribute.String("digest.id", digestID))
	defer span.End()

	view := aggregator.BuildView(s.state.Snapshot(), s.cfg.NodesOrder, s.cfg.NodesMeta,
		s.thresholds, s.cfg.StaleWindow(), time.Now())

	for _, rc := range s.cfg.Recipients {
		pref, err := s.prefs.GetOrDefault(rc.ChatID, s.defaultsFor(rc.ChatID))
		if err != nil {
			// Render with configured defaults rather than dropping the digest.
			s.log.Error("preference lookup failed, using defaults",
				zap.String("digest_id", digestID), zap.String("chat_id", rc.ChatID), zap.Error(err))
			pref.RecipientID = rc.ChatID
			pref.Language = rc.DefaultLanguage
			pref.ViewMode = rc.DefaultViewMode
		}

		text := render.Digest(view, pref)
		if err := s.dispatcher.SendMessage(ctx, rc.ChatID, text); err != nil {
			metrics.DispatchFailures.Inc()
			s.log.Error("digest dispatch failed",
				zap.String("digest_id", digestID), zap.String("chat_id", rc.ChatID), zap.Error(err))
			continue
		}
		metrics.DigestsSent.Inc()
	}

	s.log.Info("digest round complete",
		zap.String("digest_id", digestID),
		zap.String("cluster_status", view.ClusterStatus),
		zap.Int("nodes", len(view.Entries)))
}

// DigestFor renders an on-demand digest for a single chat, used by the
// /status command.
func (s *Scheduler) DigestFor(ctx context.Context, chatID string) (string, error) {
	pref, err := s.prefs.GetOrDefault(chatID, s.defaultsFor(chatID))
	if err != nil {
		return "", fmt.Errorf("preferences for %s: %w", chatID, err)
	}
	view := aggregator.BuildView(s.state.Snapshot(), s.cfg.NodesOrder, s.cfg.NodesMeta,
		s.thresholds, s.cfg.StaleWindow(), time.Now())
	return render.Digest(view, pref), nil
}

// DefaultsFor returns the configured preference defaults for a chat, or the
// global defaults for chats not in the recipient list.
func (s *Scheduler) DefaultsFor(chatID string) storage.Defaults {
	return s.defaultsFor(chatID)
}

func (s *Scheduler) defaultsFor(chatID string) storage.Defaults {
	for _, rc := range s.cfg.Recipients {
		if rc.ChatID == chatID {
			return storage.Defaults{Language: rc.DefaultLanguage, ViewMode: rc.DefaultViewMode}
		}
	}
	return storage.Defaults{Language: config.DefaultLanguage, ViewMode: config.DefaultViewMode}
}
