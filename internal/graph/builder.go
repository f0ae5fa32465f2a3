// Package graph derives the dependency graph between bank documents:
// plain link edges and transclusion edges, with validity flags, cycle
// detection, and impact traversal. The graph is rebuilt from content on
// every query and is never a source of truth.
package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/parser"
	"github.com/starford/munin/internal/storage"
)

// Builder constructs graphs from live content. Parses are memoized per
// path keyed by a content fingerprint, so rebuilding after small edits
// only re-parses what changed.
type Builder struct {
	files  storage.Provider
	logger *slog.Logger

	mu   sync.Mutex
	memo map[string]memoEntry
}

type memoEntry struct {
	fingerprint uint64
	doc         parsedDoc
}

type parsedDoc struct {
	body       string
	links      []models.LinkRef
	directives []models.Directive
}

// NewBuilder creates a builder over the given provider.
func NewBuilder(files storage.Provider, logger *slog.Logger) *Builder {
	return &Builder{
		files:  files,
		logger: logger,
		memo:   make(map[string]memoEntry),
	}
}

// Build constructs the graph reachable from the given paths. Referenced
// documents are followed transitively so cycle checks always see the
// full closure, not just the requested sources. Sources that cannot be
// read are skipped with a warning.
func (b *Builder) Build(paths ...string) (*Graph, error) {
	g := &Graph{}
	nodes := make(map[string]struct{})
	queued := make(map[string]struct{})

	queue := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, dup := queued[p]; dup {
			continue
		}
		queued[p] = struct{}{}
		queue = append(queue, p)
	}

	for len(queue) > 0 {
		src := queue[0]
		queue = queue[1:]

		doc, ok := b.parse(src)
		if !ok {
			b.logger.Warn("graph build skipped unreadable source", slog.String("path", src))
			continue
		}
		nodes[src] = struct{}{}

		enqueue := func(target string) {
			if _, dup := queued[target]; dup {
				return
			}
			queued[target] = struct{}{}
			queue = append(queue, target)
		}

		for _, ref := range doc.links {
			target := parser.ResolveTarget(src, ref.Target)
			edge := models.Edge{
				Source: src,
				Target: target,
				Kind:   models.EdgeLink,
				Line:   ref.Line,
			}
			if !b.exists(target) {
				edge.Invalid = true
				edge.Reason = fmt.Sprintf("target not found: %s", target)
			} else {
				enqueue(target)
			}
			nodes[target] = struct{}{}
			g.Edges = append(g.Edges, edge)
		}

		for _, d := range doc.directives {
			target := parser.ResolveTarget(src, d.Target)
			edge := models.Edge{
				Source:    src,
				Target:    target,
				Kind:      models.EdgeTransclusion,
				Section:   d.Section,
				Lines:     d.Lines,
				Recursive: d.Recursive,
				Line:      d.Line,
			}
			switch {
			case d.Err != "":
				edge.Invalid = true
				edge.Reason = d.Err
			case !b.exists(target):
				edge.Invalid = true
				edge.Reason = fmt.Sprintf("target not found: %s", target)
			case d.Section != "":
				tdoc, ok := b.parse(target)
				if !ok || !parser.HasSection(tdoc.body, d.Section) {
					edge.Invalid = true
					edge.Reason = fmt.Sprintf("section %q not found in %s", d.Section, target)
				} else {
					enqueue(target)
				}
			default:
				enqueue(target)
			}
			if target != "" {
				nodes[target] = struct{}{}
			}
			g.Edges = append(g.Edges, edge)
		}
	}

	g.Nodes = make([]string, 0, len(nodes))
	for n := range nodes {
		g.Nodes = append(g.Nodes, n)
	}
	sort.Strings(g.Nodes)
	sort.SliceStable(g.Edges, func(i, j int) bool {
		x, y := g.Edges[i], g.Edges[j]
		if x.Source != y.Source {
			return x.Source < y.Source
		}
		if x.Line != y.Line {
			return x.Line < y.Line
		}
		return x.Target < y.Target
	})

	g.finalize()
	return g, nil
}

// BuildAll constructs the graph over every document in the bank.
func (b *Builder) BuildAll() (*Graph, error) {
	metas, err := b.files.List("")
	if err != nil {
		return nil, fmt.Errorf("graph: list bank: %w", err)
	}
	paths := make([]string, 0, len(metas))
	for _, m := range metas {
		paths = append(paths, m.Path)
	}
	sort.Strings(paths)
	return b.Build(paths...)
}

// parse reads and parses a document, reusing the previous parse when the
// content fingerprint is unchanged. The bool is false when the file
// cannot be read.
func (b *Builder) parse(path string) (parsedDoc, bool) {
	data, err := b.files.Read(path)
	if err != nil {
		return parsedDoc{}, false
	}
	fp := xxh3.Hash(data)

	b.mu.Lock()
	if entry, ok := b.memo[path]; ok && entry.fingerprint == fp {
		b.mu.Unlock()
		return entry.doc, true
	}
	b.mu.Unlock()

	res, err := parser.Parse(data)
	if err != nil {
		return parsedDoc{}, false
	}
	doc := parsedDoc{
		body:       res.Body,
		links:      res.Links,
		directives: res.Directives,
	}

	b.mu.Lock()
	b.memo[path] = memoEntry{fingerprint: fp, doc: doc}
	b.mu.Unlock()
	return doc, true
}

func (b *Builder) exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := b.files.Stat(path)
	return err == nil
}
