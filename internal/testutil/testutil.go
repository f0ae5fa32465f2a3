// Package testutil provides shared test helpers for setting up banks and databases.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/munin/internal/index"
	"github.com/starford/munin/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "munin-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBank creates a temporary memory bank directory with a storage.Provider.
func TestBank(t *testing.T) (string, storage.Provider) {
	t.Helper()
	bankDir := t.TempDir()
	store, err := storage.NewFS(bankDir)
	if err != nil {
		t.Fatal(err)
	}
	return bankDir, store
}

// TestLogger returns a logger that stays quiet below the error level.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
