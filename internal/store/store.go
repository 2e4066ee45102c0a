// Package store persists session snapshots. The contract is deliberately
// coarse: put, get, and delete whole snapshots keyed by session id. No
// field-level access — a snapshot is always written and read as one value,
// so a reader can never observe a torn paragraph.
package store

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/transcript"
)

// ErrNotFound is returned by Get for unknown session ids.
var ErrNotFound = badger.ErrKeyNotFound

// Snapshot is the complete persisted state of one session.
type Snapshot struct {
	SessionID    string                        `json:"session_id"`
	Transcript   transcript.Transcript         `json:"transcript"`
	Translations []transcript.TranslationEntry `json:"translations"`

	// AudioKey locates the session's recorded audio in the blob store.
	// Empty when no audio was kept.
	AudioKey string `json:"audio_key,omitempty"`

	// Timestamp is the write time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Store is a Badger-backed snapshot store.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the snapshot database at dir.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health verifies the database is open and readable.
func (s *Store) Health() error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// Put writes a whole snapshot, replacing any previous value for the id.
func (s *Store) Put(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(snap.SessionID), data)
	})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", snap.SessionID, err)
	}
	return nil
}

// Get reads a whole snapshot. Returns ErrNotFound for unknown ids.
func (s *Store) Get(sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: get %s: %w", sessionID, err)
	}
	return snap, nil
}

// Delete removes a session's snapshot. Deleting an absent id is not an
// error.
func (s *Store) Delete(sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(sessionID))
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", sessionID, err)
	}
	return nil
}

// List returns the ids of all stored sessions.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return ids, nil
}

const prefix = "session/"

func key(sessionID string) []byte {
	return []byte(prefix + sessionID)
}
