package index

import (
	"log/slog"
	"time"

	"github.com/starford/munin/internal/checksum"
	"github.com/starford/munin/internal/graph"
	"github.com/starford/munin/internal/parser"
	"github.com/starford/munin/internal/storage"
)

// Sync walks the bank and brings the cache up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the cache
func Sync(db *DB, store storage.Provider, b *graph.Builder, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexDocument(db, b, store, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDocument(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexDocument parses data, derives the document's outgoing edges, and
// upserts the cache row. Shared by Sync, the watcher, and the document
// service so every write path indexes the same way.
func IndexDocument(db *DB, b *graph.Builder, store storage.Provider, path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	g, err := b.Build(path)
	if err != nil {
		return err
	}

	row := DocRow{
		Path:      path,
		Title:     res.Title,
		Checksum:  checksum.Sum(data),
		Tags:      res.Tags,
		UpdatedAt: time.Now(),
	}
	if info, statErr := store.Stat(path); statErr == nil {
		row.UpdatedAt = info.ModTime()
	}
	return db.UpsertDocument(row, res.Body, g.EdgesFrom(path))
}
