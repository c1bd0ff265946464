package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/ambilightd/internal/db"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestStore_ReadMissing(t *testing.T) {
	s := openStore(t)

	if _, err := s.Read("profile", "default"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_WriteBumpsVersion(t *testing.T) {
	s := openStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	for i := int64(1); i <= 3; i++ {
		version, err := s.Write("profile", "default", []byte(`{"n":1}`))
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if version != i {
			t.Errorf("write %d returned version %d", i, version)
		}
	}

	doc, err := s.Read("profile", "default")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 3 || string(doc.Payload) != `{"n":1}` || !doc.UpdatedAt.Equal(at) {
		t.Errorf("doc = %+v", doc)
	}
}

func TestStore_RemoveReportsExisting(t *testing.T) {
	s := openStore(t)
	if _, err := s.Write("profile", "default", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"existing", true},
		{"already removed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Remove("profile", "default")
			if err != nil || got != tt.want {
				t.Errorf("Remove = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestSlot_LoadEmpty(t *testing.T) {
	slot := NewSlot[sample](openStore(t), "sample", "a")

	v, ok, err := slot.Load()
	if err != nil || ok || v != (sample{}) {
		t.Errorf("Load(empty) = %+v, %v, %v", v, ok, err)
	}
}

func TestSlot_SaveLoadClear(t *testing.T) {
	slot := NewSlot[sample](openStore(t), "sample", "a")

	for i := 1; i <= 2; i++ {
		version, err := slot.Save(sample{Name: "a", Value: float64(i)})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if version != int64(i) {
			t.Errorf("save %d returned version %d", i, version)
		}
	}

	v, ok, err := slot.Load()
	if err != nil || !ok || v.Value != 2 {
		t.Fatalf("Load = %+v, %v, %v", v, ok, err)
	}

	if err := slot.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := slot.Clear(); err != nil {
		t.Errorf("Clear on empty slot = %v", err)
	}
	if _, ok, _ := slot.Load(); ok {
		t.Error("Load after Clear found a value")
	}
}

func TestSlot_KeysAreSeparate(t *testing.T) {
	store := openStore(t)
	a := NewSlot[sample](store, "sample", "x")
	b := NewSlot[sample](store, "other", "x")

	if _, err := a.Save(sample{Name: "x", Value: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Save(sample{Name: "other"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Clear(); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := b.Load(); !ok || v.Name != "other" {
		t.Errorf("Clear removed another kind: %+v, %v", v, ok)
	}
}

func TestSlot_CorruptPayload(t *testing.T) {
	store := openStore(t)
	if _, err := store.Write("sample", "x", []byte("not json")); err != nil {
		t.Fatal(err)
	}

	if _, _, err := NewSlot[sample](store, "sample", "x").Load(); err == nil {
		t.Error("Load of corrupt payload succeeded")
	}
}
