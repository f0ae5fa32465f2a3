// Package transclude expands {{include: ...}} directives into rendered
// text. Resolution is read-only and fail-closed: cycles and bad
// directives stop the render with a typed error rather than producing
// partial or runaway output.
package transclude

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/graph"
	"github.com/starford/munin/internal/models"
	"github.com/starford/munin/internal/parser"
	"github.com/starford/munin/internal/storage"
)

// DefaultMaxDepth bounds nested expansion when the caller does not.
const DefaultMaxDepth = 10

// Options controls one resolution.
type Options struct {
	// MaxDepth is the deepest allowed nesting of recursive inclusions;
	// zero means DefaultMaxDepth.
	MaxDepth int
}

// Resolver expands directives against live content.
type Resolver struct {
	files   storage.Provider
	builder *graph.Builder
	logger  *slog.Logger
}

// NewResolver creates a resolver over the given provider and graph
// builder.
func NewResolver(files storage.Provider, builder *graph.Builder, logger *slog.Logger) *Resolver {
	return &Resolver{files: files, builder: builder, logger: logger}
}

// Resolve returns path's content with every directive replaced by the
// referenced content. The document's own frontmatter is kept; included
// documents contribute their body only. Content without directives
// comes back unchanged.
func (r *Resolver) Resolve(path string, opts Options) (string, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	data, err := r.files.Read(path)
	if err != nil {
		// Callers see not-found either way; keep the real cause in the log.
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("transclusion root unreadable", slog.String("path", path), slog.String("error", err.Error()))
		}
		return "", fmt.Errorf("transclude: %s: %w", path, apperr.ErrNotFound)
	}

	// The dependency graph sees the whole closure, so a cycle anywhere
	// below the start path is known before any expansion begins.
	g, err := r.builder.Build(path)
	if err != nil {
		return "", err
	}
	if cyc := g.CycleFor(path); cyc != nil {
		return "", &apperr.CircularTransclusionError{Path: path, Cycle: cyc}
	}

	run := &expansion{r: r, g: g, opts: opts}
	run.push(path)
	return run.expandText(string(data), path, 0)
}

// expansion carries the state of one Resolve call: the graph snapshot
// and the stack of documents currently being expanded.
type expansion struct {
	r       *Resolver
	g       *graph.Graph
	opts    Options
	stack   []string
	inStack map[string]struct{}
}

func (x *expansion) push(path string) {
	if x.inStack == nil {
		x.inStack = make(map[string]struct{})
	}
	x.stack = append(x.stack, path)
	x.inStack[path] = struct{}{}
}

func (x *expansion) pop() {
	last := x.stack[len(x.stack)-1]
	x.stack = x.stack[:len(x.stack)-1]
	delete(x.inStack, last)
}

// expandText replaces every directive occurrence in text. Surrounding
// text on the directive's line is preserved. Lines are rebuilt from the
// match offsets so replacement text is never rescanned: a directive
// left literal by recursive=false stays literal.
func (x *expansion) expandText(text, source string, depth int) (string, error) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		ms := parser.FindDirectives(line)
		if len(ms) == 0 {
			continue
		}
		var out strings.Builder
		last := 0
		for _, m := range ms {
			d := m.Directive
			d.Line = i + 1
			rep, err := x.expandDirective(d, source, depth)
			if err != nil {
				return "", err
			}
			out.WriteString(line[last:m.Start])
			out.WriteString(rep)
			last = m.End
		}
		out.WriteString(line[last:])
		lines[i] = out.String()
	}
	return strings.Join(lines, "\n"), nil
}

// expandDirective produces the replacement text for one directive.
func (x *expansion) expandDirective(d models.Directive, source string, depth int) (string, error) {
	if d.Err != "" {
		return "", &apperr.DirectiveError{Path: source, Line: d.Line, Directive: d.Raw, Reason: d.Err}
	}

	target := parser.ResolveTarget(source, d.Target)
	data, err := x.r.files.Read(target)
	if err != nil {
		return "", &apperr.DirectiveError{
			Path:      source,
			Line:      d.Line,
			Directive: d.Raw,
			Reason:    fmt.Sprintf("target not found: %s", target),
			Err:       apperr.ErrNotFound,
		}
	}

	res, err := parser.Parse(data)
	if err != nil {
		return "", fmt.Errorf("transclude: parse %s: %w", target, err)
	}
	body := res.Body

	if d.Section != "" {
		sec, ok := parser.ExtractSection(body, d.Section)
		if !ok {
			return "", &apperr.SectionNotFoundError{Path: target, Section: d.Section}
		}
		body = sec
	}

	if d.Recursive {
		if _, active := x.inStack[target]; active {
			cycle := append(append([]string(nil), x.stack...), target)
			return "", &apperr.CircularTransclusionError{Path: target, Cycle: cycle}
		}
		if cyc := x.g.CycleFor(target); cyc != nil {
			return "", &apperr.CircularTransclusionError{Path: target, Cycle: cyc}
		}
		if depth+1 > x.opts.MaxDepth {
			return "", fmt.Errorf("transclude: max depth %d exceeded at %s", x.opts.MaxDepth, target)
		}
		x.push(target)
		body, err = x.expandText(body, target, depth+1)
		x.pop()
		if err != nil {
			return "", err
		}
	}

	if d.Lines > 0 {
		ls := strings.Split(body, "\n")
		if len(ls) > d.Lines {
			body = strings.Join(ls[:d.Lines], "\n")
		}
	}
	return body, nil
}
