package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/docservice"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/transclude"
)

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

// docPath extracts the document path from the wildcard URL segment.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fdoc.md).
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents with optional pagination and filtering
//	@Tags			documents
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			sort	query		string	false	"Sort field"	Enums(updated, title, path)
//	@Success		200		{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	tag := q.Get("tag")
	sort := q.Get("sort")

	items, total, err := h.svc.List(r.Context(), limit, offset, tag, sort)
	if err != nil {
		slog.Error("list documents failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": items,
		"total":     total,
	})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get a single document by path
//	@Tags			documents
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	DocumentDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.Read(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Create a new document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Document to create"
//	@Success		201		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and content are required"))
		return
	}
	doc, err := h.svc.Create(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorBody("document already exists"))
		} else {
			slog.Error("create document failed", slog.String("path", req.Path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// UpdateDocument handles PUT /api/documents/*. The document is created
// when it does not exist yet, matching write semantics elsewhere: an
// If-Match hash guards against concurrent edits, an absent header skips
// the guard.
//
//	@Summary		Write a document with optimistic concurrency
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path		path	string					true	"Document path"
//	@Param			If-Match	header	string					false	"SHA-256 hash for optimistic concurrency"
//	@Param			body		body	UpdateDocumentRequest	true	"New content"
//	@Success		200			{object}	DocumentDetail
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	ConflictResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [put]
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	ifMatch := r.Header.Get("If-Match")
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch = strings.Trim(ifMatch, `"`)

	doc, err := h.svc.Write(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		var conflict *apperr.ConflictError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":    "hash mismatch",
				"path":     conflict.Path,
				"expected": conflict.Expected,
				"actual":   conflict.Actual,
			})
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("hash mismatch"))
		default:
			slog.Error("update document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/*. Version history for
// the path is retained.
//
//	@Summary		Delete a document
//	@Tags			documents
//	@Param			path	path	string	true	"Document path"
//	@Success		204		"Document deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Delete(r.Context(), path); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete document failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/history/*.
//
//	@Summary		Get the version history of a document, oldest first
//	@Tags			versions
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history/{path} [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	versions, err := h.svc.History(r.Context(), path)
	if err != nil {
		slog.Error("history failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if versions == nil {
		versions = []models.SnapshotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":     path,
		"versions": versions,
	})
}

// RestoreVersion handles POST /api/restore/*. Restoring appends the
// snapshot content as a new version rather than rewriting history.
//
//	@Summary		Restore a document to an earlier version
//	@Tags			versions
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string					true	"Document path"
//	@Param			body	body		RestoreVersionRequest	true	"Version to restore"
//	@Success		200		{object}	DocumentDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/restore/{path} [post]
func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req struct {
		Version int `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Version <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("version must be a positive integer"))
		return
	}
	doc, err := h.svc.RestoreVersion(r.Context(), path, req.Version)
	if err != nil {
		if errors.Is(err, apperr.ErrVersionNotFound) || errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
		} else {
			slog.Error("restore version failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Render handles GET /api/render/*. Expansion is fail-closed: any
// unresolvable directive aborts the whole render with a 422 carrying
// the failing directive's context.
//
//	@Summary		Get a document with transclusion directives expanded
//	@Tags			links
//	@Produce		json
//	@Param			path		path		string	true	"Document path"
//	@Param			max_depth	query		int		false	"Maximum inclusion nesting depth"
//	@Success		200			{object}	RenderResponse
//	@Failure		404			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render/{path} [get]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var opts transclude.Options
	if v := r.URL.Query().Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("max_depth must be a positive integer"))
			return
		}
		opts.MaxDepth = n
	}

	content, err := h.svc.ResolveTransclusions(r.Context(), path, opts)
	if err != nil {
		var (
			section   *apperr.SectionNotFoundError
			circular  *apperr.CircularTransclusionError
			directive *apperr.DirectiveError
		)
		switch {
		case errors.As(err, &section):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "section not found",
				"path":    section.Path,
				"section": section.Section,
			})
		case errors.As(err, &circular):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": "circular transclusion",
				"path":  circular.Path,
				"cycle": circular.Cycle,
			})
		case errors.As(err, &directive):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":     "invalid directive",
				"path":      directive.Path,
				"line":      directive.Line,
				"directive": directive.Directive,
				"reason":    directive.Reason,
			})
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("render failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"content": content,
	})
}

// Links handles GET /api/links/*.
//
//	@Summary		Get all outgoing links and transclusions of a document
//	@Tags			links
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	LinksResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links/{path} [get]
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	edges, err := h.svc.ParseLinks(r.Context(), path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("links failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  path,
		"links": edges,
	})
}

// Validate handles GET /api/validate.
//
//	@Summary		Report broken links and transclusion cycles bank-wide
//	@Tags			links
//	@Produce		json
//	@Success		200	{object}	docservice.ValidationReport
//	@Security		BearerAuth
//	@Router			/validate [get]
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ValidateLinks(r.Context())
	if err != nil {
		slog.Error("validate failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the dependency graph
//	@Tags			links
//	@Produce		json
//	@Param			format	query		string	false	"Output format"	Enums(json, dot, mermaid)
//	@Success		200		{object}	GraphResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	switch format {
	case "", "json", "dot", "mermaid":
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("format must be one of json, dot, mermaid"))
		return
	}
	view, err := h.svc.DependencyGraph(r.Context(), format)
	if err != nil {
		slog.Error("graph failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if view.Format == "json" {
		writeJSON(w, http.StatusOK, view.Payload)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(view.Text))
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across documents
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// CaptureRollback handles POST /api/rollbacks. The current version of
// each path is recorded so the whole set can be restored later.
//
//	@Summary		Capture a rollback point for a set of documents
//	@Tags			rollbacks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CaptureRollbackRequest	true	"Paths to capture"
//	@Success		201		{object}	RollbackCaptureResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rollbacks [post]
func (h *Handler) CaptureRollback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Paths       []string `json:"paths"`
		ExecutionID string   `json:"execution_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("paths is required"))
		return
	}
	id, err := h.svc.CaptureRollback(r.Context(), req.Paths, req.ExecutionID)
	if err != nil {
		slog.Error("capture rollback failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"rollback_id": id,
	})
}

// ListRollbacks handles GET /api/rollbacks.
//
//	@Summary		List recorded rollback points, newest first
//	@Tags			rollbacks
//	@Produce		json
//	@Success		200	{object}	RollbackListResponse
//	@Security		BearerAuth
//	@Router			/rollbacks [get]
func (h *Handler) ListRollbacks(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.RollbackHistory(r.Context())
	if err != nil {
		slog.Error("list rollbacks failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if records == nil {
		records = []models.RollbackRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rollbacks": records,
	})
}

// RestoreRollback handles POST /api/rollbacks/{id}/restore. Every file
// in the set is attempted; the response reports per-file outcomes.
//
//	@Summary		Restore all documents in a rollback point
//	@Tags			rollbacks
//	@Produce		json
//	@Param			id	path		string	true	"Rollback ID"
//	@Success		200	{object}	models.RollbackRecord
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rollbacks/{id}/restore [post]
func (h *Handler) RestoreRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.svc.RestoreRollback(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("rollback not found"))
		} else {
			slog.Error("restore rollback failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
