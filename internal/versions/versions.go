// Package versions maintains the per-path snapshot logs: every accepted
// write appends an immutable snapshot, and any prior snapshot can be
// restored. Restores append rather than rewrite, so they are themselves
// versioned and reversible.
package versions

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/checksum"
	"github.com/starford/munin/internal/metaindex"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/storage"
)

// maxSnapshotLine bounds the log scanner. It must hold the API write
// limit after JSON escaping, which can inflate content several times.
const maxSnapshotLine = 64 << 20

// Snapshot is one log line: version metadata plus the full payload.
type Snapshot struct {
	Version   int       `json:"version"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Note      string    `json:"note,omitempty"`
	Content   string    `json:"content"`
}

// Info strips the payload for history listings.
func (s Snapshot) Info() models.SnapshotInfo {
	return models.SnapshotInfo{
		Path:      s.Path,
		Version:   s.Version,
		Hash:      s.Hash,
		Size:      s.Size,
		CreatedAt: s.CreatedAt,
		Note:      s.Note,
	}
}

// Store writes snapshot logs under dir, one JSONL file per document
// path. Writes go through the metadata index for conflict checks; the
// live file is only touched after the snapshot is durable.
type Store struct {
	dir    string
	files  storage.Provider
	meta   *metaindex.Index
	logger *slog.Logger

	// mu serializes version-number allocation across writers.
	mu sync.Mutex
}

// NewStore creates a snapshot store rooted at dir (created on first
// append).
func NewStore(dir string, files storage.Provider, meta *metaindex.Index, logger *slog.Logger) *Store {
	return &Store{dir: dir, files: files, meta: meta, logger: logger}
}

// Write records content as the next version of path and replaces the
// live file. A non-empty expectedHash must match the current indexed
// hash, refreshed from disk first; otherwise the write is rejected with
// a ConflictError and nothing changes. An empty expectedHash skips the
// guard (explicit overwrite, and the create path for new files).
func (s *Store) Write(path string, content []byte, expectedHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.meta.Refresh(path)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return 0, err
	}
	if expectedHash != "" {
		if s.meta.Check(path, expectedHash) != models.CheckMatch {
			return 0, &apperr.ConflictError{Path: path, Expected: expectedHash, Actual: rec.Hash}
		}
	}
	return s.append(path, content, "")
}

// RestoreToVersion copies the payload of an existing snapshot back to
// the live file, appending it as a new version so the restore shows up
// in history. Returns the new version number.
func (s *Store) RestoreToVersion(path string, version int) (int, error) {
	snap, err := s.Snapshot(path, version)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(path, []byte(snap.Content), fmt.Sprintf("restore of version %d", version))
}

// append allocates the next version, makes the snapshot durable, then
// updates the live file and the metadata index. Caller holds mu.
func (s *Store) append(path string, content []byte, note string) (int, error) {
	snaps := s.load(path)
	next := 1
	if n := len(snaps); n > 0 {
		next = snaps[n-1].Version + 1
	}

	snap := Snapshot{
		Version:   next,
		Path:      path,
		Hash:      checksum.Sum(content),
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
		Note:      note,
		Content:   string(content),
	}
	line, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("versions: encode snapshot: %w", err)
	}
	if err := storage.AppendLine(s.logPath(path), line); err != nil {
		return 0, fmt.Errorf("versions: append %s: %w", path, err)
	}

	if err := s.files.Write(path, content); err != nil {
		return 0, fmt.Errorf("versions: write live file: %w", err)
	}
	info, err := s.files.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("versions: stat after write: %w", err)
	}
	if err := s.meta.Record(path, info.Size(), snap.Hash, info.ModTime()); err != nil {
		return 0, err
	}
	return next, nil
}

// History returns version metadata for path, oldest first. A path never
// written through the store has empty history.
func (s *Store) History(path string) ([]models.SnapshotInfo, error) {
	snaps := s.load(path)
	out := make([]models.SnapshotInfo, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap.Info())
	}
	return out, nil
}

// Snapshot returns one full snapshot, payload included.
func (s *Store) Snapshot(path string, version int) (Snapshot, error) {
	for _, snap := range s.load(path) {
		if snap.Version == version {
			return snap, nil
		}
	}
	return Snapshot{}, &apperr.VersionNotFoundError{Path: path, Version: version}
}

// CurrentVersion returns the highest recorded version for path, zero
// when there is none.
func (s *Store) CurrentVersion(path string) int {
	snap, ok := s.Latest(path)
	if !ok {
		return 0
	}
	return snap.Version
}

// Latest returns the newest snapshot for path, ok=false when the path
// has no history.
func (s *Store) Latest(path string) (Snapshot, bool) {
	snaps := s.load(path)
	if len(snaps) == 0 {
		return Snapshot{}, false
	}
	return snaps[len(snaps)-1], true
}

// logPath maps a document path to its log file. PathEscape keeps the
// mapping collision-free and reversible.
func (s *Store) logPath(path string) string {
	return filepath.Join(s.dir, url.PathEscape(path)+".jsonl")
}

// load reads and sanitizes the log for path: undecodable lines and
// snapshots whose hash does not match their payload are skipped with a
// warning, duplicate version numbers keep the first occurrence. The
// result is ordered by version.
func (s *Store) load(path string) []Snapshot {
	f, err := os.Open(s.logPath(path))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("version log unreadable", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	}
	defer f.Close()

	var (
		out  []Snapshot
		seen = make(map[int]struct{})
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSnapshotLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			s.logger.Warn("skipping corrupt snapshot line",
				slog.String("path", path), slog.Int("line", lineNo), slog.String("error", err.Error()))
			continue
		}
		if snap.Version < 1 {
			s.logger.Warn("skipping snapshot with invalid version",
				slog.String("path", path), slog.Int("line", lineNo), slog.Int("version", snap.Version))
			continue
		}
		if checksum.SumString(snap.Content) != snap.Hash {
			s.logger.Warn("skipping snapshot with hash mismatch",
				slog.String("path", path), slog.Int("line", lineNo), slog.Int("version", snap.Version))
			continue
		}
		if _, dup := seen[snap.Version]; dup {
			s.logger.Warn("skipping duplicate snapshot version",
				slog.String("path", path), slog.Int("line", lineNo), slog.Int("version", snap.Version))
			continue
		}
		seen[snap.Version] = struct{}{}
		out = append(out, snap)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("version log truncated", slog.String("path", path), slog.String("error", err.Error()))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
