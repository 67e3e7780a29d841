// Package store is the persistence collaborator: a key-value document
// store on SQLite with atomic put-replace per key.
//
// Logical layout:
//
//	sources/{id}        playlist source records
//	epgsources/{id}     EPG source records
//	channels/{sourceId} a source's channel list, replaced wholesale per refresh
//	epg/{sourceId}      a source's guide data, replaced wholesale per refresh
//	parental/state      gate state (PIN hash excluded; see secure store)
//	parental/settings   gate rule set
//	sync/data           synced user state
//
// Secrets (Xtream passwords, PIN hash) never pass through this store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

const (
	KeyParentalState    = "parental/state"
	KeyParentalSettings = "parental/settings"
	KeySyncData         = "sync/data"

	PrefixSources    = "sources/"
	PrefixEPGSources = "epgsources/"
	PrefixChannels   = "channels/"
	PrefixEPG        = "epg/"
)

func KeySource(id string) string     { return PrefixSources + id }
func KeyEPGSource(id string) string  { return PrefixEPGSources + id }
func KeyChannels(srcID string) string { return PrefixChannels + srcID }
func KeyEPG(srcID string) string      { return PrefixEPG + srcID }

// Store is a SQLite-backed key-value document store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path. ":memory:" gives an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single writer keeps put-replace atomic without busy retries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put atomically replaces the value at key.
func (s *Store) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Get decodes the value at key into v. Returns false when absent.
func (s *Store) Get(key string, v any) (bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// List returns the raw values under prefix, keyed by full key.
func (s *Store) List(prefix string) (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prefix, err)
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var val []byte
		if err := rows.Scan(&key, &val); err != nil {
			return nil, fmt.Errorf("store: list %s: %w", prefix, err)
		}
		out[key] = val
	}
	return out, rows.Err()
}

// Decode unmarshals one raw value from List.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
