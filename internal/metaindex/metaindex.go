// Package metaindex maintains the metadata index: one record per live
// file with its size, content hash, and modification time. The index is
// the reference point for optimistic-concurrency checks, so records are
// refreshed from disk before any decision that depends on them.
package metaindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/checksum"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/storage"
)

// Index holds the in-memory records and persists them to a single JSON
// file after every mutation.
type Index struct {
	mu          sync.RWMutex
	file        string // absolute path to index.json
	store       storage.Provider
	logger      *slog.Logger
	records     map[string]models.FileRecord
	needsRescan bool
}

type indexFile struct {
	Records map[string]models.FileRecord `json:"records"`
}

// Load reads the index file at file. A missing file starts an empty
// index; an unreadable or undecodable one logs a warning and starts
// empty as well. Both cases mark the index as needing a rescan so the
// caller rebuilds records from the live tree.
func Load(file string, store storage.Provider, logger *slog.Logger) *Index {
	idx := &Index{
		file:    file,
		store:   store,
		logger:  logger,
		records: make(map[string]models.FileRecord),
	}

	data, err := os.ReadFile(file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		idx.needsRescan = true
		return idx
	case err != nil:
		logger.Warn("metadata index unreadable, starting empty", slog.String("file", file), slog.String("error", err.Error()))
		idx.needsRescan = true
		return idx
	}

	var decoded indexFile
	if err := json.Unmarshal(data, &decoded); err != nil {
		logger.Warn("metadata index corrupted, starting empty", slog.String("file", file), slog.String("error", err.Error()))
		idx.needsRescan = true
		return idx
	}
	if decoded.Records != nil {
		idx.records = decoded.Records
	}
	return idx
}

// NeedsRescan reports whether the persisted index was missing or corrupt
// at load time.
func (idx *Index) NeedsRescan() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.needsRescan
}

// Rescan rebuilds every record from the live tree and persists the
// result, clearing the rescan flag.
func (idx *Index) Rescan() error {
	metas, err := idx.store.List("")
	if err != nil {
		return fmt.Errorf("metaindex: rescan list: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.records = make(map[string]models.FileRecord, len(metas))
	for _, m := range metas {
		rec, err := idx.readRecord(m.Path)
		if err != nil {
			idx.logger.Warn("rescan skipped file", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		idx.records[m.Path] = rec
	}
	idx.needsRescan = false
	return idx.persistLocked()
}

// Refresh re-reads the live file and replaces its record, persisting the
// index. A missing file removes the record and returns ErrNotFound.
func (idx *Index) Refresh(path string) (models.FileRecord, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec, err := idx.readRecord(path)
	if err != nil {
		if _, had := idx.records[path]; had {
			delete(idx.records, path)
			if perr := idx.persistLocked(); perr != nil {
				return models.FileRecord{}, perr
			}
		}
		return models.FileRecord{}, fmt.Errorf("metaindex: refresh %s: %w", path, apperr.ErrNotFound)
	}
	idx.records[path] = rec
	if err := idx.persistLocked(); err != nil {
		return models.FileRecord{}, err
	}
	return rec, nil
}

// Check compares a caller-supplied hash against the indexed one. It is
// pure: no disk access, so call Refresh first when staleness matters.
func (idx *Index) Check(path, expectedHash string) models.CheckResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.records[path]
	if !ok {
		return models.CheckUnknown
	}
	if rec.Hash == expectedHash {
		return models.CheckMatch
	}
	return models.CheckMismatch
}

// Record stores post-write metadata for path and persists the index.
func (idx *Index) Record(path string, size int64, hash string, modTime time.Time) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.records[path] = models.FileRecord{
		Path:    path,
		Size:    size,
		Hash:    hash,
		ModTime: modTime,
	}
	return idx.persistLocked()
}

// Get returns the record for path without touching the disk.
func (idx *Index) Get(path string) (models.FileRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.records[path]
	return rec, ok
}

// Forget drops the record for path, persisting the index. Dropping an
// unknown path is a no-op.
func (idx *Index) Forget(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.records[path]; !ok {
		return nil
	}
	delete(idx.records, path)
	return idx.persistLocked()
}

// Paths returns the indexed paths in sorted order.
func (idx *Index) Paths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.records))
	for p := range idx.records {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// readRecord builds a fresh record from the live file. Caller holds the
// lock or doesn't care.
func (idx *Index) readRecord(path string) (models.FileRecord, error) {
	data, err := idx.store.Read(path)
	if err != nil {
		return models.FileRecord{}, err
	}
	info, err := idx.store.Stat(path)
	if err != nil {
		return models.FileRecord{}, err
	}
	return models.FileRecord{
		Path:    path,
		Size:    info.Size(),
		Hash:    checksum.Sum(data),
		ModTime: info.ModTime(),
	}, nil
}

func (idx *Index) persistLocked() error {
	data, err := json.MarshalIndent(indexFile{Records: idx.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("metaindex: encode: %w", err)
	}
	if err := storage.WriteFileAtomic(idx.file, data); err != nil {
		return fmt.Errorf("metaindex: persist: %w", err)
	}
	return nil
}
