package storage

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewBboltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBboltStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppliedRoundtrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.AppliedPut("155.133.248.39", AppliedEntry{RecordedAt: now}); err != nil {
		t.Fatalf("AppliedPut: %v", err)
	}
	if err := store.AppliedPut("162.254.197.39", AppliedEntry{RecordedAt: now}); err != nil {
		t.Fatalf("AppliedPut: %v", err)
	}

	list, err := store.AppliedList()
	if err != nil {
		t.Fatalf("AppliedList: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("AppliedList len = %d, want 2", len(list))
	}
	entry, ok := list["155.133.248.39"]
	if !ok {
		t.Fatal("155.133.248.39 missing from list")
	}
	if !entry.RecordedAt.Equal(now) {
		t.Errorf("RecordedAt = %s, want %s", entry.RecordedAt, now)
	}

	if err := store.AppliedDelete("155.133.248.39"); err != nil {
		t.Fatalf("AppliedDelete: %v", err)
	}
	list, err = store.AppliedList()
	if err != nil {
		t.Fatalf("AppliedList: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("AppliedList len after delete = %d, want 1", len(list))
	}
}

func TestAppliedDeleteMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppliedDelete("10.0.0.1"); err != nil {
		t.Errorf("AppliedDelete on missing key: %v", err)
	}
}

func TestDirectoryMetaRoundtrip(t *testing.T) {
	store := newTestStore(t)

	meta, err := store.DirectoryMeta()
	if err != nil {
		t.Fatalf("DirectoryMeta: %v", err)
	}
	if meta != nil {
		t.Fatalf("DirectoryMeta on fresh store = %+v, want nil", meta)
	}

	want := DirectoryMeta{
		URL:       "https://example.com/config.json",
		ETag:      `"abc"`,
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SetDirectoryMeta(want); err != nil {
		t.Fatalf("SetDirectoryMeta: %v", err)
	}

	meta, err = store.DirectoryMeta()
	if err != nil {
		t.Fatalf("DirectoryMeta: %v", err)
	}
	if meta == nil {
		t.Fatal("DirectoryMeta = nil after set")
	}
	if meta.URL != want.URL || meta.ETag != want.ETag || !meta.FetchedAt.Equal(want.FetchedAt) {
		t.Errorf("DirectoryMeta = %+v, want %+v", *meta, want)
	}
}

func TestSizeBytes(t *testing.T) {
	store := newTestStore(t)
	size, err := store.SizeBytes()
	if err != nil {
		t.Fatalf("SizeBytes: %v", err)
	}
	if size <= 0 {
		t.Errorf("SizeBytes = %d, want > 0", size)
	}
}
