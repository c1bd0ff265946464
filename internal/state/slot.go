package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Slot holds one document of type T under a fixed (kind, id) key.
type Slot[T any] struct {
	store *Store
	kind  string
	id    string
}

// NewSlot binds a slot to (kind, id) in store.
func NewSlot[T any](store *Store, kind, id string) *Slot[T] {
	return &Slot[T]{store: store, kind: kind, id: id}
}

// Load decodes the stored value. ok is false when nothing was written yet.
func (s *Slot[T]) Load() (value T, ok bool, err error) {
	doc, err := s.store.Read(s.kind, s.id)
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if err := json.Unmarshal(doc.Payload, &value); err != nil {
		return value, false, fmt.Errorf("decode %s/%s: %w", s.kind, s.id, err)
	}
	return value, true, nil
}

// Save encodes value over the previous one and returns the stored version.
func (s *Slot[T]) Save(value T) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s/%s: %w", s.kind, s.id, err)
	}
	return s.store.Write(s.kind, s.id, payload)
}

// Clear removes the value. Clearing an empty slot is not an error.
func (s *Slot[T]) Clear() error {
	_, err := s.store.Remove(s.kind, s.id)
	return err
}
