package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileStoreSaveAndLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.snappy")
	ctx := context.Background()

	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	want := Offset{SourceName: "auth", LastOffset: 4096, KnownSize: 8192, Status: "ACTIVE"}
	if err := fs.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := fs.Load(ctx, "auth")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint to be found")
	}
	if got != want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}

	if err := fs.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.snappy")
	ctx := context.Background()

	fs1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := fs1.Save(ctx, Offset{SourceName: "syslog", LastOffset: 10}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fs2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open NewFileStore: %v", err)
	}
	got, ok, err := fs2.Load(ctx, "syslog")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if !ok || got.LastOffset != 10 {
		t.Fatalf("expected persisted offset 10, got %+v (ok=%v)", got, ok)
	}
}

func TestFileStoreLoadMissingSourceReturnsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.snappy")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, ok, err := fs.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a source that was never checkpointed")
	}
}
