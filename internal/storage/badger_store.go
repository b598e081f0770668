// Package storage persists recipient preferences so language and view
// choices survive process restarts.
package storage

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/speedwatch/speedwatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// Defaults supplies the preference values materialized on first contact with
// a recipient.
type Defaults struct {
	Language string
	ViewMode string
}

// PrefStore interface (kept minimal, allows swapping implementations).
type PrefStore interface {
	// GetOrDefault returns the recipient's preferences, materializing and
	// persisting the given defaults on first lookup. It never fails due to a
	// missing record.
	GetOrDefault(recipientID string, def Defaults) (models.RecipientPref, error)
	SetLanguage(recipientID, language string, def Defaults) (models.RecipientPref, error)
	SetViewMode(recipientID, viewMode string, def Defaults) (models.RecipientPref, error)
	Close() error
}

// BadgerStore implements PrefStore with Badger DB. Every mutation is written
// through immediately; a store-level mutex serializes read-modify-write
// cycles so concurrent changes to the same recipient are last-write-wins on
// whole records.
type BadgerStore struct {
	db *badger.DB
	mu sync.Mutex
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func prefKey(recipientID string) []byte {
	return []byte("pref:" + recipientID)
}

func (s *BadgerStore) get(recipientID string) (models.RecipientPref, error) {
	var out models.RecipientPref
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefKey(recipientID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return models.RecipientPref{}, err
	}
	return out, nil
}

func (s *BadgerStore) put(p models.RecipientPref) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return txn.Set(prefKey(p.RecipientID), data)
	})
}

func (s *BadgerStore) GetOrDefault(recipientID string, def Defaults) (models.RecipientPref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(recipientID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.RecipientPref{}, err
	}

	now := time.Now().UTC()
	p = models.RecipientPref{
		RecipientID: recipientID,
		Language:    def.Language,
		ViewMode:    def.ViewMode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.put(p); err != nil {
		return models.RecipientPref{}, err
	}
	return p, nil
}

func (s *BadgerStore) SetLanguage(recipientID, language string, def Defaults) (models.RecipientPref, error) {
	return s.update(recipientID, def, func(p *models.RecipientPref) {
		p.Language = language
	})
}

func (s *BadgerStore) SetViewMode(recipientID, viewMode string, def Defaults) (models.RecipientPref, error) {
	return s.update(recipientID, def, func(p *models.RecipientPref) {
		p.ViewMode = viewMode
	})
}

func (s *BadgerStore) update(recipientID string, def Defaults, mutate func(*models.RecipientPref)) (models.RecipientPref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p, err := s.get(recipientID)
	if errors.Is(err, ErrNotFound) {
		p = models.RecipientPref{
			RecipientID: recipientID,
			Language:    def.Language,
			ViewMode:    def.ViewMode,
			CreatedAt:   now,
		}
	} else if err != nil {
		return models.RecipientPref{}, err
	}

	mutate(&p)
	p.UpdatedAt = now
	if err := s.put(p); err != nil {
		return models.RecipientPref{}, err
	}
	return p, nil
}
