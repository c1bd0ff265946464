// Package state keeps small versioned JSON documents, such as the saved
// profile, in the shared database.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Read for a missing document.
var ErrNotFound = errors.New("state document not found")

// Document is one stored payload. Version starts at 1 and grows with every write.
type Document struct {
	Kind      string
	ID        string
	Payload   []byte
	Version   int64
	UpdatedAt time.Time
}

// Store reads and writes documents in the resource_state table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a document store on db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Read returns the document stored under (kind, id).
func (s *Store) Read(kind, id string) (Document, error) {
	doc := Document{Kind: kind, ID: id}
	var payload string
	var updated int64
	err := s.db.QueryRow(
		`SELECT payload, version, updated_at FROM resource_state WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&payload, &doc.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, fmt.Errorf("read %s/%s: %w", kind, id, err)
	}
	doc.Payload = []byte(payload)
	doc.UpdatedAt = time.Unix(updated, 0).UTC()
	return doc, nil
}

// Write replaces the payload under (kind, id) and returns the new version.
func (s *Store) Write(kind, id string, payload []byte) (int64, error) {
	var version int64
	err := s.db.QueryRow(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = resource_state.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, kind, id, string(payload), s.now().UTC().Unix()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("write %s/%s: %w", kind, id, err)
	}

	log.Debug().
		Str("kind", kind).
		Str("id", id).
		Int64("version", version).
		Int("bytes", len(payload)).
		Msg("State document written")
	return version, nil
}

// Remove deletes the document under (kind, id). It reports whether one existed.
func (s *Store) Remove(kind, id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return false, fmt.Errorf("remove %s/%s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
