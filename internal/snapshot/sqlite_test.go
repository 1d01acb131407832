package snapshot

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if _, ok, err := store.Load(ctx, "customfield"); err != nil || ok {
		t.Fatalf("expected empty bucket, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(ctx, "customfield", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "customfield", []byte(`{"a":2}`)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.Load(ctx, "customfield")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":2}` {
		t.Fatalf("unexpected payload %s", got)
	}
	if err := store.Save(ctx, "", nil); err == nil {
		t.Fatal("expected bucket error")
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "schemes", []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()
	got, ok, err := reopened.Load(ctx, "schemes")
	if err != nil || !ok || string(got) != "[]" {
		t.Fatalf("unexpected reload: %s ok=%v err=%v", got, ok, err)
	}
}
