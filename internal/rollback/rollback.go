// Package rollback captures the versions of a set of documents before a
// risky operation and restores them afterwards. Restores are conflict-
// aware per file: a document edited since capture is skipped, never
// clobbered, and one failing file never aborts the rest of the set.
package rollback

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/metaindex"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/storage"
	"github.com/starford/munin/internal/versions"
)

const maxRecordLine = 4 << 20

// Manager persists rollback records to an append-only JSONL log. A
// restore appends a completed copy of the record rather than rewriting
// the capture line, so the log stays append-only and auditable.
type Manager struct {
	file   string
	vers   *versions.Store
	meta   *metaindex.Index
	logger *slog.Logger

	mu sync.Mutex
}

// NewManager creates a manager writing to the given log file.
func NewManager(file string, vers *versions.Store, meta *metaindex.Index, logger *slog.Logger) *Manager {
	return &Manager{file: file, vers: vers, meta: meta, logger: logger}
}

// Capture records each path's then-current snapshot version and hash
// and returns the rollback id. Order is preserved; duplicate paths keep
// the first occurrence. A path with no version history is captured at
// version zero — restoring it will report failure rather than guess.
func (m *Manager) Capture(paths []string, executionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := models.RollbackRecord{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		CreatedAt:   time.Now().UTC(),
		Files:       make([]models.RollbackFile, 0, len(paths)),
	}

	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		f := models.RollbackFile{Path: p, Outcome: models.OutcomePending}
		if snap, ok := m.vers.Latest(p); ok {
			f.Version = snap.Version
			f.Hash = snap.Hash
		}
		rec.Files = append(rec.Files, f)
	}

	if err := m.append(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Restore replays a captured record. Per file, in capture order: a
// document whose content no longer matches the captured hash is skipped
// as a conflict; a document captured without history fails; everything
// else is restored through the version store, which appends the restore
// as a fresh version. The returned record carries the per-file
// outcomes.
func (m *Manager) Restore(rollbackID string) (*models.RollbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.find(rollbackID)
	if !ok {
		return nil, fmt.Errorf("rollback %s: %w", rollbackID, apperr.ErrNotFound)
	}

	done := rec
	done.Files = append([]models.RollbackFile(nil), rec.Files...)
	for i := range done.Files {
		f := &done.Files[i]
		f.Outcome, f.Detail = m.restoreFile(*f)
	}

	// The completed copy is appended, not rewritten over the capture
	// line; loaders take the newest state per id.
	if err := m.append(done); err != nil {
		m.logger.Warn("rollback outcome not persisted",
			slog.String("id", done.ID), slog.String("error", err.Error()))
	}
	return &done, nil
}

// restoreFile decides the outcome for a single captured file. The
// current indexed hash must still equal the captured snapshot's hash;
// anything written after the snapshot point is a conflict and the file
// is left alone.
func (m *Manager) restoreFile(f models.RollbackFile) (string, string) {
	if f.Version < 1 {
		return models.OutcomeFailed, "no version captured for this path"
	}

	cur, err := m.meta.Refresh(f.Path)
	curHash := ""
	switch {
	case err == nil:
		curHash = cur.Hash
	case errors.Is(err, apperr.ErrNotFound):
		// Deleted since capture: the hash comparison below reports it
		// as a conflict rather than recreating the file.
	default:
		return models.OutcomeFailed, fmt.Sprintf("refresh failed: %v", err)
	}

	if curHash != f.Hash {
		return models.OutcomeSkippedConflict, "content changed since capture"
	}

	newV, err := m.vers.RestoreToVersion(f.Path, f.Version)
	if err != nil {
		return models.OutcomeFailed, fmt.Sprintf("restore failed: %v", err)
	}
	return models.OutcomeRestored, fmt.Sprintf("version %d restored as version %d", f.Version, newV)
}

// History returns every rollback record, newest capture first, each in
// its most recent state. A corrupt log degrades to an empty history.
func (m *Manager) History() ([]models.RollbackRecord, error) {
	recs := m.load()
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// Get returns the most recent state of one record.
func (m *Manager) Get(rollbackID string) (*models.RollbackRecord, error) {
	rec, ok := m.find(rollbackID)
	if !ok {
		return nil, fmt.Errorf("rollback %s: %w", rollbackID, apperr.ErrNotFound)
	}
	return &rec, nil
}

func (m *Manager) find(id string) (models.RollbackRecord, bool) {
	for _, rec := range m.load() {
		if rec.ID == id {
			return rec, true
		}
	}
	return models.RollbackRecord{}, false
}

func (m *Manager) append(rec models.RollbackRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rollback: encode record: %w", err)
	}
	if err := storage.AppendLine(m.file, line); err != nil {
		return fmt.Errorf("rollback: append record: %w", err)
	}
	return nil
}

// load reads the log, skipping undecodable lines with a warning and
// collapsing repeated ids to their newest line. A missing or wholly
// corrupt log yields an empty slice, never an error.
func (m *Manager) load() []models.RollbackRecord {
	f, err := os.Open(m.file)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("rollback history unreadable, treating as empty", slog.String("error", err.Error()))
		}
		return nil
	}
	defer f.Close()

	var (
		order []string
		byID  = make(map[string]models.RollbackRecord)
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec models.RollbackRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.logger.Warn("skipping corrupt rollback record",
				slog.Int("line", lineNo), slog.String("error", err.Error()))
			continue
		}
		if rec.ID == "" {
			m.logger.Warn("skipping rollback record without id", slog.Int("line", lineNo))
			continue
		}
		if _, seen := byID[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		byID[rec.ID] = rec
	}
	if err := scanner.Err(); err != nil {
		m.logger.Warn("rollback history truncated", slog.String("error", err.Error()))
	}

	out := make([]models.RollbackRecord, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
