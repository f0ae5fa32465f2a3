package api

import (
	"github.com/starford/munin/internal/docservice"
	"github.com/starford/munin/internal/models"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	Path    string `json:"path" example:"projects/notes.md" validate:"required"`
	Content string `json:"content" example:"# Notes\nBody" validate:"required"`
}

// UpdateDocumentRequest is the request body for writing a document.
type UpdateDocumentRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// RestoreVersionRequest selects the snapshot version to restore.
type RestoreVersionRequest struct {
	Version int `json:"version" example:"3" validate:"required"`
}

// CaptureRollbackRequest is the request body for capturing a rollback point.
type CaptureRollbackRequest struct {
	Paths       []string `json:"paths" example:"a.md,b.md" validate:"required"`
	ExecutionID string   `json:"execution_id" example:"task-42"`
}

// DocumentDetail is the full document response type (aliased from the domain layer).
type DocumentDetail = docservice.DocumentDetail

// DocumentListItem is a lightweight item in a list response (aliased from the domain layer).
type DocumentListItem = docservice.DocumentListItem

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42" validate:"required"`
}

// ConflictResponse reports an optimistic-concurrency failure on write.
type ConflictResponse struct {
	Error    string `json:"error" example:"hash mismatch" validate:"required"`
	Path     string `json:"path" example:"projects/notes.md" validate:"required"`
	Expected string `json:"expected" example:"abc123..." validate:"required"`
	Actual   string `json:"actual" example:"def456..." validate:"required"`
}

// HistoryResponse wraps the version history of one document.
type HistoryResponse struct {
	Path     string                `json:"path" example:"projects/notes.md" validate:"required"`
	Versions []models.SnapshotInfo `json:"versions" validate:"required"`
}

// RenderResponse carries a document with its transclusions expanded.
type RenderResponse struct {
	Path    string `json:"path" example:"projects/notes.md" validate:"required"`
	Content string `json:"content" example:"# Notes\nIncluded body" validate:"required"`
}

// LinksResponse wraps the outgoing edges of one document.
type LinksResponse struct {
	Path  string        `json:"path" example:"projects/notes.md" validate:"required"`
	Links []models.Edge `json:"links" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"projects/notes.md" validate:"required"`
	Title   string `json:"title" example:"Notes" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// GraphResponse is the JSON form of the dependency graph.
type GraphResponse struct {
	Nodes      []string      `json:"nodes" validate:"required"`
	Edges      []models.Edge `json:"edges" validate:"required"`
	CyclePaths []string      `json:"cycle_paths" validate:"required"`
}

// RollbackCaptureResponse is returned after a rollback point is captured.
type RollbackCaptureResponse struct {
	RollbackID string `json:"rollback_id" example:"9f1c2d3e" validate:"required"`
}

// RollbackListResponse wraps recorded rollback points.
type RollbackListResponse struct {
	Rollbacks []models.RollbackRecord `json:"rollbacks" validate:"required"`
}
