package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/valet/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "valet.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	rec := &Record{
		ID:          "r1",
		SessionID:   "s-1",
		Kind:        KindOnce,
		At:          at,
		Tool:        "notify",
		Args:        map[string]any{"message": "hi", "count": float64(2)},
		Description: "say hi",
		CreatedAt:   time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != KindOnce || !got.At.Equal(at) {
		t.Errorf("got = %+v", got)
	}
	if got.Args["message"] != "hi" || got.Args["count"] != float64(2) {
		t.Errorf("args = %+v", got.Args)
	}
	if got.Description != "say hi" || got.Tool != "notify" {
		t.Errorf("fields lost: %+v", got)
	}
}

func TestSQLiteStore_ListBySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	for i, sessionID := range []string{"s-1", "s-2", "s-1"} {
		rec := &Record{
			ID:        []string{"a", "b", "c"}[i],
			SessionID: sessionID,
			Kind:      KindRecurring,
			Expr:      "0 9 * * *",
			Tool:      "notify",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	listed, err := store.List(ctx, "s-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "a" || listed[1].ID != "c" {
		t.Errorf("List(s-1) = %+v", listed)
	}

	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListAll() = %d, want 3", len(all))
	}
}

func TestSQLiteStore_DeleteAndMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{ID: "r1", SessionID: "s-1", Kind: KindRecurring, Expr: "0 9 * * *", Tool: "notify", CreatedAt: time.Now()}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "r1"); err != ErrNotFound {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete(unknown) error = %v, want nil", err)
	}
}
