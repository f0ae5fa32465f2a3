package metaindex

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/checksum"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newIndex(t *testing.T) (*Index, storage.Provider, string) {
	t.Helper()
	bank := t.TempDir()
	store, err := storage.NewFS(bank)
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "index.json")
	return Load(file, store, testLogger()), store, file
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	idx, _, _ := newIndex(t)
	if !idx.NeedsRescan() {
		t.Error("fresh index should need a rescan")
	}
	if got := idx.Paths(); len(got) != 0 {
		t.Errorf("paths = %v, want empty", got)
	}
}

func TestLoad_CorruptFileStartsEmpty(t *testing.T) {
	bank := t.TempDir()
	store, _ := storage.NewFS(bank)
	file := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(file, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := Load(file, store, testLogger())
	if !idx.NeedsRescan() {
		t.Error("corrupt index should need a rescan")
	}
	if got := idx.Paths(); len(got) != 0 {
		t.Errorf("paths = %v, want empty", got)
	}
}

func TestRescan(t *testing.T) {
	idx, store, file := newIndex(t)
	_ = store.Write("a.md", []byte("alpha"))
	_ = store.Write("sub/b.md", []byte("beta"))

	if err := idx.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if idx.NeedsRescan() {
		t.Error("rescan flag should clear")
	}
	paths := idx.Paths()
	if len(paths) != 2 || paths[0] != "a.md" || paths[1] != "sub/b.md" {
		t.Errorf("paths = %v", paths)
	}
	rec, ok := idx.Get("a.md")
	if !ok {
		t.Fatal("a.md not recorded")
	}
	if rec.Hash != checksum.Sum([]byte("alpha")) || rec.Size != 5 {
		t.Errorf("record = %+v", rec)
	}

	// Rescan persisted: a fresh load sees the same records.
	reloaded := Load(file, store, testLogger())
	if reloaded.NeedsRescan() {
		t.Error("persisted index should not need a rescan")
	}
	if got := reloaded.Paths(); len(got) != 2 {
		t.Errorf("reloaded paths = %v", got)
	}
}

func TestRefresh(t *testing.T) {
	idx, store, _ := newIndex(t)
	_ = store.Write("doc.md", []byte("v1"))

	rec, err := idx.Refresh("doc.md")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rec.Hash != checksum.Sum([]byte("v1")) {
		t.Errorf("hash = %s", rec.Hash)
	}

	// Out-of-band edit is picked up.
	_ = store.Write("doc.md", []byte("v2 longer"))
	rec, err = idx.Refresh("doc.md")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rec.Hash != checksum.Sum([]byte("v2 longer")) || rec.Size != 9 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRefresh_MissingRemovesRecord(t *testing.T) {
	idx, store, _ := newIndex(t)
	_ = store.Write("gone.md", []byte("x"))
	if _, err := idx.Refresh("gone.md"); err != nil {
		t.Fatal(err)
	}

	_ = store.Delete("gone.md")
	_, err := idx.Refresh("gone.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, ok := idx.Get("gone.md"); ok {
		t.Error("record should be removed")
	}
}

func TestCheck(t *testing.T) {
	idx, _, _ := newIndex(t)

	if got := idx.Check("nope.md", "abc"); got != models.CheckUnknown {
		t.Errorf("check = %v, want unknown", got)
	}

	hash := checksum.Sum([]byte("body"))
	if err := idx.Record("doc.md", 4, hash, time.Now()); err != nil {
		t.Fatal(err)
	}
	if got := idx.Check("doc.md", hash); got != models.CheckMatch {
		t.Errorf("check = %v, want match", got)
	}
	if got := idx.Check("doc.md", "stale"); got != models.CheckMismatch {
		t.Errorf("check = %v, want mismatch", got)
	}
}

func TestRecordAndForgetPersist(t *testing.T) {
	idx, store, file := newIndex(t)
	if err := idx.Record("keep.md", 1, "h1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Record("drop.md", 1, "h2", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Forget("drop.md"); err != nil {
		t.Fatal(err)
	}

	reloaded := Load(file, store, testLogger())
	if _, ok := reloaded.Get("keep.md"); !ok {
		t.Error("keep.md lost on reload")
	}
	if _, ok := reloaded.Get("drop.md"); ok {
		t.Error("drop.md should be forgotten")
	}
}
