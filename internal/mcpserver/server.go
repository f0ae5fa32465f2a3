// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the memory bank tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/docservice"
	"github.com/starford/munin/internal/transclude"
)

// Server wraps the MCP server with the memory bank tools.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *docservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Munin",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the raw content of a memory bank document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. folder/doc.md)")),
	), s.readFile)

	s.mcp.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Write a document, recording the new content as the next version. "+
			"Pass expected_hash from a previous read to guard against concurrent edits; "+
			"omit it to overwrite unconditionally or to create a new file. Links and "+
			"include directives follow the munin://directive-syntax resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full new Markdown content")),
		mcp.WithString("expected_hash", mcp.Description("SHA-256 hash the current content must match")),
	), s.writeFile)

	s.mcp.AddTool(mcp.NewTool("get_metadata",
		mcp.WithDescription("Get size, content hash, and modification time of a document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
	), s.getMetadata)

	s.mcp.AddTool(mcp.NewTool("get_version_history",
		mcp.WithDescription("List the recorded versions of a document, oldest first."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
	), s.getVersionHistory)

	s.mcp.AddTool(mcp.NewTool("rollback_to_version",
		mcp.WithDescription("Restore a document to an earlier version. The restored content "+
			"is appended as a new version; history is never rewritten."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
		mcp.WithNumber("version", mcp.Required(), mcp.Description("Version number to restore")),
	), s.rollbackToVersion)

	s.mcp.AddTool(mcp.NewTool("parse_links",
		mcp.WithDescription("List every outgoing link and transclusion of a document, "+
			"including invalid ones with the reason they are invalid."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
	), s.parseLinks)

	s.mcp.AddTool(mcp.NewTool("resolve_transclusions",
		mcp.WithDescription("Return a document with its include directives expanded. "+
			"Expansion is fail-closed: a missing target or section, a malformed "+
			"directive, or a transclusion cycle fails the whole call."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the document")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum inclusion nesting depth (default 10)")),
	), s.resolveTransclusions)

	s.mcp.AddTool(mcp.NewTool("validate_links",
		mcp.WithDescription("Report broken links and transclusion cycles across the whole bank."),
	), s.validateLinks)

	s.mcp.AddTool(mcp.NewTool("get_dependency_graph",
		mcp.WithDescription("Get the document dependency graph."),
		mcp.WithString("format", mcp.Description("Output format: json (default), dot, or mermaid")),
	), s.getDependencyGraph)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List all documents or documents in a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("search_files",
		mcp.WithDescription("Full-text search through document content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchFiles)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all documents that link to the specified document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the document to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("capture_rollback",
		mcp.WithDescription("Record the current version of a set of documents so they can "+
			"be restored together later. Call before a batch of edits."),
		mcp.WithArray("paths", mcp.Required(), mcp.Description("Paths to capture"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("execution_id", mcp.Description("Optional caller-supplied correlation ID")),
	), s.captureRollback)

	s.mcp.AddTool(mcp.NewTool("restore_rollback",
		mcp.WithDescription("Restore every document in a captured rollback set. Files whose "+
			"current content matches the captured state are skipped; every file reports "+
			"an outcome and one failure never aborts the rest."),
		mcp.WithString("rollback_id", mcp.Required(), mcp.Description("ID returned by capture_rollback")),
	), s.restoreRollback)

	s.mcp.AddTool(mcp.NewTool("get_rollback_history",
		mcp.WithDescription("List recorded rollback sets, newest first."),
	), s.getRollbackHistory)

	// Resource: directive syntax contract.
	s.mcp.AddResource(
		mcp.NewResource("munin://directive-syntax", "Directive Syntax",
			mcp.WithResourceDescription("Link and transclusion syntax for memory bank documents."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDirectiveSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError maps domain failures to tool-result errors the caller can
// act on. Anything else is internal and propagates as a Go error.
func toolError(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyExists),
		errors.Is(err, apperr.ErrVersionNotFound),
		errors.Is(err, apperr.ErrSectionNotFound),
		errors.Is(err, apperr.ErrCircularTransclusion),
		errors.Is(err, apperr.ErrInvalidDirective):
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

// intArg extracts an integer argument, returning defaultVal if the key
// is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// stringSliceArg extracts a string-array argument from a tool request.
func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Read(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return nil, err
	}
	return mcp.NewToolResultText(doc.Content), nil
}

func (s *Server) writeFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expected := req.GetString("expected_hash", "")

	doc, err := s.svc.Write(ctx, path, []byte(content), expected)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{
		"path":     doc.Path,
		"version":  doc.Version,
		"checksum": doc.Checksum,
	}), nil
}

func (s *Server) getMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Metadata(ctx, path)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(rec), nil
}

func (s *Server) getVersionHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hist, err := s.svc.History(ctx, path)
	if err != nil {
		return toolError(err)
	}
	if len(hist) == 0 {
		return mcp.NewToolResultText("no versions recorded"), nil
	}
	return jsonResult(hist), nil
}

func (s *Server) rollbackToVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	version := intArg(req, "version", 0)
	if version <= 0 {
		return mcp.NewToolResultError("'version' must be a positive integer"), nil
	}
	doc, err := s.svc.RestoreVersion(ctx, path, version)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{
		"path":     doc.Path,
		"version":  doc.Version,
		"checksum": doc.Checksum,
	}), nil
}

func (s *Server) parseLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edges, err := s.svc.ParseLinks(ctx, path)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(edges), nil
}

func (s *Server) resolveTransclusions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := transclude.Options{MaxDepth: intArg(req, "max_depth", 0)}

	content, err := s.svc.ResolveTransclusions(ctx, path, opts)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) validateLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.ValidateLinks(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(report), nil
}

func (s *Server) getDependencyGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "")
	switch format {
	case "", "json", "dot", "mermaid":
	default:
		return mcp.NewToolResultError("'format' must be one of json, dot, mermaid"), nil
	}
	view, err := s.svc.DependencyGraph(ctx, format)
	if err != nil {
		return nil, err
	}
	if view.Format == "json" {
		return jsonResult(view.Payload), nil
	}
	return mcp.NewToolResultText(view.Text), nil
}

func (s *Server) listFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := req.GetString("folder", "")

	metas, err := s.svc.Files(ctx, folder)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, m := range metas {
		paths = append(paths, m.Path)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no files found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) searchFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return nil, err
	}
	return jsonResult(results), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) captureRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths := stringSliceArg(req, "paths")
	if len(paths) == 0 {
		return mcp.NewToolResultError("'paths' must be a non-empty array of strings"), nil
	}
	executionID := req.GetString("execution_id", "")

	id, err := s.svc.CaptureRollback(ctx, paths, executionID)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]any{"rollback_id": id}), nil
}

func (s *Server) restoreRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rollback_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.RestoreRollback(ctx, id)
	if err != nil {
		return toolError(err)
	}
	return jsonResult(rec), nil
}

func (s *Server) getRollbackHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.svc.RollbackHistory(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("no rollbacks recorded"), nil
	}
	return jsonResult(records), nil
}

func (s *Server) readDirectiveSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "munin://directive-syntax",
			MIMEType: "text/markdown",
			Text:     DirectiveSyntaxContract,
		},
	}, nil
}
