package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/speedwatch/speedwatch/internal/models"
)

var testDefaults = Defaults{Language: "en", ViewMode: models.ViewCompact}

func openStore(t *testing.T, path string) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(path)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	return s
}

func TestGetOrDefaultMaterializesAndSurvivesRestart(t *testing.T) {
	path := t.TempDir()

	s := openStore(t, path)
	p, err := s.GetOrDefault("1001", testDefaults)
	if err != nil {
		t.Fatalf("GetOrDefault: %v", err)
	}
	if p.Language != "en" || p.ViewMode != models.ViewCompact {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: the materialized default must come back unchanged.
	s = openStore(t, path)
	defer s.Close()
	p2, err := s.GetOrDefault("1001", Defaults{Language: "ru", ViewMode: models.ViewDetailed})
	if err != nil {
		t.Fatalf("GetOrDefault after reopen: %v", err)
	}
	if p2.Language != "en" || p2.ViewMode != models.ViewCompact {
		t.Fatalf("persisted default was reset: %+v", p2)
	}
	if !p2.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("created_at changed across restart: %v vs %v", p.CreatedAt, p2.CreatedAt)
	}
}

func TestSetLanguagePersistsImmediately(t *testing.T) {
	path := t.TempDir()
	s := openStore(t, path)

	if _, err := s.SetLanguage("42", "ru", testDefaults); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = openStore(t, path)
	defer s.Close()
	p, err := s.GetOrDefault("42", testDefaults)
	if err != nil {
		t.Fatalf("GetOrDefault: %v", err)
	}
	if p.Language != "ru" {
		t.Fatalf("language = %q, want ru", p.Language)
	}
	// The unset field was filled from defaults at creation time.
	if p.ViewMode != models.ViewCompact {
		t.Fatalf("view mode = %q, want compact", p.ViewMode)
	}
}

func TestSetViewModeUpdatesOnlyThatField(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	if _, err := s.SetLanguage("7", "ru", testDefaults); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	p, err := s.SetViewMode("7", models.ViewDetailed, testDefaults)
	if err != nil {
		t.Fatalf("SetViewMode: %v", err)
	}
	if p.Language != "ru" || p.ViewMode != models.ViewDetailed {
		t.Fatalf("got %+v", p)
	}
	if !p.UpdatedAt.After(p.CreatedAt) && !p.UpdatedAt.Equal(p.CreatedAt) {
		t.Fatalf("updated_at %v precedes created_at %v", p.UpdatedAt, p.CreatedAt)
	}
}

func TestConcurrentChangesSameRecipientSerialize(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.SetLanguage("9", "ru", testDefaults); err != nil {
				t.Errorf("SetLanguage: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.SetViewMode("9", models.ViewDetailed, testDefaults); err != nil {
				t.Errorf("SetViewMode: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := s.GetOrDefault("9", testDefaults)
	if err != nil {
		t.Fatalf("GetOrDefault: %v", err)
	}
	// Both fields must land on a written value, never a torn record.
	if p.Language != "ru" && p.Language != "en" {
		t.Fatalf("language = %q", p.Language)
	}
	if p.ViewMode != models.ViewDetailed && p.ViewMode != models.ViewCompact {
		t.Fatalf("view mode = %q", p.ViewMode)
	}
}

func TestIndependentRecipients(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("chat-%d", i)
		if _, err := s.SetLanguage(id, "ru", testDefaults); err != nil {
			t.Fatalf("SetLanguage(%s): %v", id, err)
		}
	}
	other, err := s.GetOrDefault("chat-other", testDefaults)
	if err != nil {
		t.Fatalf("GetOrDefault: %v", err)
	}
	if other.Language != "en" {
		t.Fatalf("unrelated recipient affected: %+v", other)
	}
}
