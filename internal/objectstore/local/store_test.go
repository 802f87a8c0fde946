package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quill/internal/objectstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := objectstore.ResultKey("r-1", "developmental")

	if err := store.Put(ctx, key, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected payload %q", data)
	}
	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(context.Background(), objectstore.StatusKey("missing"))
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestImmutableKeysAreIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := objectstore.ManuscriptKey("u-1", "m-1")

	if err := store.Put(ctx, key, []byte("chapter one")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := store.Put(ctx, key, []byte("chapter one")); err != nil {
		t.Fatalf("identical rewrite should succeed: %v", err)
	}
	err := store.Put(ctx, key, []byte("chapter two"))
	if !errors.Is(err, objectstore.ErrImmutableKey) {
		t.Fatalf("expected ErrImmutableKey, got %v", err)
	}
}

func TestStatusKeysAreOverwritable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := objectstore.StatusKey("r-1")

	if err := store.Put(ctx, key, []byte(`{"state":"queued"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, key, []byte(`{"state":"running"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"state":"running"}` {
		t.Fatalf("unexpected payload %q", data)
	}
}

func TestDeletePrefixRemovesReportArtifacts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if err := store.Put(ctx, objectstore.ResultKey("r-1", "developmental"), []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, objectstore.ResultKey("r-1", "keywords"), []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, objectstore.ResultKey("r-2", "developmental"), []byte("c")); err != nil {
		t.Fatal(err)
	}

	if err := store.DeletePrefix(ctx, objectstore.ReportPrefix("r-1")); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if ok, _ := store.Exists(ctx, objectstore.ResultKey("r-1", "keywords")); ok {
		t.Fatal("expected r-1 artifacts to be gone")
	}
	if ok, _ := store.Exists(ctx, objectstore.ResultKey("r-2", "developmental")); !ok {
		t.Fatal("expected r-2 artifacts to survive")
	}
}

func TestSweepExpired(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := objectstore.StatusKey("r-old")
	if err := store.Put(ctx, key, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(store.root, "status", "r-old")
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := store.Put(ctx, objectstore.StatusKey("r-new"), []byte("{}")); err != nil {
		t.Fatal(err)
	}

	removed, err := store.SweepExpired(ctx, objectstore.StatusPrefix(), 24*time.Hour)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if ok, _ := store.Exists(ctx, objectstore.StatusKey("r-new")); !ok {
		t.Fatal("fresh status record should survive sweep")
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	store := newStore(t)
	if err := store.Put(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatal("expected error for traversal key")
	}
}
