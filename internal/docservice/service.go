// Package docservice coordinates the stores behind both serving
// surfaces: live content, version history, metadata records, the
// dependency graph, transclusion resolution, rollback sets, and the
// SQLite cache.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/checksum"
	"github.com/starford/munin/internal/graph"
	"github.com/starford/munin/internal/index"
	"github.com/starford/munin/internal/metaindex"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/parser"
	"github.com/starford/munin/internal/rollback"
	"github.com/starford/munin/internal/storage"
	"github.com/starford/munin/internal/transclude"
	"github.com/starford/munin/internal/versions"
)

// DocumentDetail is the full representation of a document.
type DocumentDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Size        int64          `json:"size"`
	Version     int            `json:"version"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Backlinks   []string       `json:"backlinks"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationReport summarizes bank-wide link health: edges whose target
// or section is missing, and documents participating in transclusion
// cycles.
type ValidationReport struct {
	InvalidEdges []models.Edge `json:"invalid_edges"`
	CyclePaths   []string      `json:"cycle_paths"`
}

// GraphView is a dependency graph rendered in one format: "json" fills
// Payload, "dot" and "mermaid" fill Text.
type GraphView struct {
	Format  string         `json:"format"`
	Payload *graph.Payload `json:"payload,omitempty"`
	Text    string         `json:"text,omitempty"`
}

// Service coordinates storage, versioning, graph, and cache operations.
type Service struct {
	store     storage.Provider
	db        *index.DB
	meta      *metaindex.Index
	vers      *versions.Store
	builder   *graph.Builder
	resolver  *transclude.Resolver
	rollbacks *rollback.Manager
	logger    *slog.Logger
}

// NewService creates a new document service.
func NewService(store storage.Provider, db *index.DB, meta *metaindex.Index, vers *versions.Store, builder *graph.Builder, resolver *transclude.Resolver, rollbacks *rollback.Manager, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		db:        db,
		meta:      meta,
		vers:      vers,
		builder:   builder,
		resolver:  resolver,
		rollbacks: rollbacks,
		logger:    logger,
	}
}

// Read returns a document from storage, parsed and enriched with
// backlinks and its current version number.
func (s *Service) Read(_ context.Context, path string) (*DocumentDetail, error) {
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return s.buildDetail(path, data)
}

// Create writes a brand-new document as version 1 and indexes it.
func (s *Service) Create(_ context.Context, path string, content []byte) (*DocumentDetail, error) {
	if _, err := s.store.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if _, err := s.vers.Write(path, content, ""); err != nil {
		return nil, err
	}
	if err := index.IndexDocument(s.db, s.builder, s.store, path, content); err != nil {
		return nil, err
	}
	return s.buildDetail(path, content)
}

// Write records content as the next version of path, guarded by
// expectedHash when non-empty, then refreshes the cache row. A stale
// hash surfaces as *apperr.ConflictError and nothing changes. An absent
// file with an empty expectedHash is created.
func (s *Service) Write(_ context.Context, path string, content []byte, expectedHash string) (*DocumentDetail, error) {
	if _, err := s.vers.Write(path, content, expectedHash); err != nil {
		return nil, err
	}
	if err := index.IndexDocument(s.db, s.builder, s.store, path, content); err != nil {
		return nil, err
	}
	return s.buildDetail(path, content)
}

// Delete removes the live file, its cache row, and its metadata record.
// Version history is retained; deletion is not a version event.
func (s *Service) Delete(_ context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if err := s.db.DeleteDocument(path); err != nil {
		return err
	}
	return s.meta.Forget(path)
}

// List returns paginated documents with optional tag filter.
func (s *Service) List(_ context.Context, limit, offset int, tag, sort string) ([]DocumentListItem, int, error) {
	rows, total, err := s.db.ListDocuments(limit, offset, tag, sort)
	if err != nil {
		return nil, 0, err
	}
	items := make([]DocumentListItem, len(rows))
	for i, r := range rows {
		items[i] = DocumentListItem{
			Path:      r.Path,
			Title:     r.Title,
			Checksum:  r.Checksum,
			Tags:      nonNilSlice(r.Tags),
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Files lists the live files under folder straight from disk, bypassing
// the cache. An empty folder means the whole bank.
func (s *Service) Files(_ context.Context, folder string) ([]models.DocumentMeta, error) {
	return s.store.List(folder)
}

// Search delegates full-text search to the cache.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Backlinks returns all document paths that reference the given target.
func (s *Service) Backlinks(_ context.Context, target string) ([]string, error) {
	return s.db.Backlinks(target)
}

// Metadata returns the metadata record for path, refreshed from disk so
// out-of-band edits are reflected.
func (s *Service) Metadata(_ context.Context, path string) (models.FileRecord, error) {
	return s.meta.Refresh(path)
}

// History returns version metadata for path, oldest first.
func (s *Service) History(_ context.Context, path string) ([]models.SnapshotInfo, error) {
	return s.vers.History(path)
}

// RestoreVersion copies a snapshot payload back as the newest version
// and refreshes the cache row.
func (s *Service) RestoreVersion(_ context.Context, path string, version int) (*DocumentDetail, error) {
	if _, err := s.vers.RestoreToVersion(path, version); err != nil {
		return nil, err
	}
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	if err := index.IndexDocument(s.db, s.builder, s.store, path, data); err != nil {
		return nil, err
	}
	return s.buildDetail(path, data)
}

// ParseLinks returns every outgoing edge of one source document,
// including invalid ones with their reasons.
func (s *Service) ParseLinks(_ context.Context, path string) ([]models.Edge, error) {
	if _, err := s.store.Stat(path); err != nil {
		return nil, apperr.ErrNotFound
	}
	g, err := s.builder.Build(path)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(g.EdgesFrom(path)), nil
}

// ResolveTransclusions expands include directives in path's content.
// Failures carry typed errors: SectionNotFoundError, DirectiveError,
// CircularTransclusionError.
func (s *Service) ResolveTransclusions(_ context.Context, path string, opts transclude.Options) (string, error) {
	return s.resolver.Resolve(path, opts)
}

// ValidateLinks builds the bank-wide graph and reports broken edges and
// transclusion cycles.
func (s *Service) ValidateLinks(_ context.Context) (*ValidationReport, error) {
	g, err := s.builder.BuildAll()
	if err != nil {
		return nil, err
	}
	return &ValidationReport{
		InvalidEdges: nonNilSlice(g.InvalidEdges()),
		CyclePaths:   nonNilSlice(g.CyclePaths()),
	}, nil
}

// DependencyGraph renders the bank-wide dependency graph. Formats:
// "json" (default, structured payload), "dot", "mermaid".
func (s *Service) DependencyGraph(_ context.Context, format string) (*GraphView, error) {
	g, err := s.builder.BuildAll()
	if err != nil {
		return nil, err
	}
	view := &GraphView{Format: format}
	switch format {
	case "", "json":
		view.Format = "json"
		p := g.Payload()
		view.Payload = &p
	case "dot":
		view.Text = g.DOT()
	case "mermaid":
		view.Text = g.Mermaid()
	default:
		return nil, fmt.Errorf("docservice: unknown graph format %q", format)
	}
	return view, nil
}

// CaptureRollback records the current snapshot version of each path so
// the set can be restored as a unit later. Returns the rollback ID.
func (s *Service) CaptureRollback(_ context.Context, paths []string, executionID string) (string, error) {
	return s.rollbacks.Capture(paths, executionID)
}

// RestoreRollback restores a captured set, returning per-file outcomes.
// Cache rows are refreshed for files that were actually restored.
func (s *Service) RestoreRollback(_ context.Context, id string) (*models.RollbackRecord, error) {
	rec, err := s.rollbacks.Restore(id)
	if err != nil {
		return nil, err
	}
	for _, f := range rec.Files {
		if f.Outcome != models.OutcomeRestored {
			continue
		}
		data, readErr := s.store.Read(f.Path)
		if readErr != nil {
			s.logger.Warn("restored file unreadable, cache row left stale",
				slog.String("path", f.Path), slog.String("error", readErr.Error()))
			continue
		}
		if err := index.IndexDocument(s.db, s.builder, s.store, f.Path, data); err != nil {
			s.logger.Warn("cache refresh after restore failed",
				slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
	return rec, nil
}

// RollbackHistory returns recorded rollback sets, newest first.
func (s *Service) RollbackHistory(_ context.Context) ([]models.RollbackRecord, error) {
	return s.rollbacks.History()
}

// buildDetail constructs a DocumentDetail from raw data without
// re-reading the file.
func (s *Service) buildDetail(path string, data []byte) (*DocumentDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	bl, err := s.db.Backlinks(path)
	if err != nil {
		return nil, err
	}
	detail := &DocumentDetail{
		Path:        path,
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Size:        int64(len(data)),
		Version:     s.vers.CurrentVersion(path),
		Tags:        nonNilSlice(res.Tags),
		Frontmatter: res.Frontmatter,
		Backlinks:   nonNilSlice(bl),
		UpdatedAt:   time.Now(),
	}
	if info, statErr := s.store.Stat(path); statErr == nil {
		detail.UpdatedAt = info.ModTime()
	}
	return detail, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
