package transclude

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/starford/munin/internal/apperr"
	"github.com/starford/munin/internal/graph"
	"github.com/starford/munin/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newResolver(t *testing.T) (*Resolver, storage.Provider) {
	t.Helper()
	files, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	builder := graph.NewBuilder(files, testLogger())
	return NewResolver(files, builder, testLogger()), files
}

func TestResolve_NoDirectivesIsIdentity(t *testing.T) {
	r, files := newResolver(t)
	content := "# Plain\n\nNothing to expand here, not even [[links]].\n"
	_ = files.Write("plain.md", []byte(content))

	got, err := r.Resolve("plain.md", Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want identity", got)
	}
}

func TestResolve_BasicInclude(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("before\n> {{include: shared.md}} <\nafter\n"))
	_ = files.Write("shared.md", []byte("SHARED"))

	got, err := r.Resolve("host.md", Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "before\n> SHARED <\nafter\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolve_IncludedFrontmatterStripped(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("{{include: meta.md}}\n"))
	_ = files.Write("meta.md", []byte("---\ntitle: Meta\n---\nbody only\n"))

	got, err := r.Resolve("host.md", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "title: Meta") {
		t.Errorf("included frontmatter leaked: %q", got)
	}
	if !strings.Contains(got, "body only") {
		t.Errorf("body missing: %q", got)
	}
}

func TestResolve_SectionTargeting(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("{{include: doc.md#Setup}}\n"))
	_ = files.Write("doc.md", []byte("# Doc\nintro\n## Setup\none\ntwo\n## Other\nnope\n"))

	got, err := r.Resolve("host.md", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "one\ntwo\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_SectionMissing(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("{{include: doc.md#Ghost}}\n"))
	_ = files.Write("doc.md", []byte("# Doc\n## Real\nx\n"))

	_, err := r.Resolve("host.md", Options{})
	var snf *apperr.SectionNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("err = %v, want SectionNotFoundError", err)
	}
	if snf.Path != "doc.md" || snf.Section != "Ghost" {
		t.Errorf("error = %+v", snf)
	}
	if !errors.Is(err, apperr.ErrSectionNotFound) {
		t.Error("should match ErrSectionNotFound")
	}
}

func TestResolve_LinesTruncation(t *testing.T) {
	// Five content lines under Setup; lines=2 keeps exactly the first two.
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("{{include: doc.md#Setup|lines=2}}\n"))
	_ = files.Write("doc.md", []byte("## Setup\nl1\nl2\nl3\nl4\nl5\n## Next\nx\n"))

	got, err := r.Resolve("host.md", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "l1\nl2\n" {
		t.Errorf("got %q, want first two lines", got)
	}
}

func TestResolve_NestedExpansionByDefault(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("a.md", []byte("A[{{include: b.md}}]\n"))
	_ = files.Write("b.md", []byte("B[{{include: c.md}}]"))
	_ = files.Write("c.md", []byte("C"))

	got, err := r.Resolve("a.md", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "A[B[C]]\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_RecursiveFalseKeepsNestedLiteral(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("a.md", []byte("{{include: b.md|recursive=false}}\n"))
	_ = files.Write("b.md", []byte("B and {{include: c.md}}"))
	_ = files.Write("c.md", []byte("C"))

	got, err := r.Resolve("a.md", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "B and {{include: c.md}}\n" {
		t.Errorf("got %q, want nested directive left literal", got)
	}
}

func TestResolve_LiteralDirectiveNotRescanned(t *testing.T) {
	// The raw inclusion inserts text that looks like the second
	// directive on the same line. Only the real occurrence may expand.
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("{{include: inner.md|recursive=false}} and {{include: other.md}}\n"))
	_ = files.Write("inner.md", []byte("literal {{include: other.md}} stays"))
	_ = files.Write("other.md", []byte("OTHER"))

	got, err := r.Resolve("host.md", Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "literal {{include: other.md}} stays and OTHER\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolve_CycleFails(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("a.md", []byte("{{include: b.md}}\n"))
	_ = files.Write("b.md", []byte("{{include: a.md}}\n"))

	_, err := r.Resolve("a.md", Options{})
	var cte *apperr.CircularTransclusionError
	if !errors.As(err, &cte) {
		t.Fatalf("err = %v, want CircularTransclusionError", err)
	}
	if !errors.Is(err, apperr.ErrCircularTransclusion) {
		t.Error("should match ErrCircularTransclusion")
	}
	if len(cte.Cycle) != 2 {
		t.Errorf("cycle = %v", cte.Cycle)
	}
}

func TestResolve_SelfIncludeFails(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("self.md", []byte("{{include: self.md}}\n"))

	_, err := r.Resolve("self.md", Options{})
	if !errors.Is(err, apperr.ErrCircularTransclusion) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolve_CycleBelowEntryFails(t *testing.T) {
	// The entry document is not part of the cycle but would walk into it.
	r, files := newResolver(t)
	_ = files.Write("entry.md", []byte("{{include: a.md}}\n"))
	_ = files.Write("a.md", []byte("{{include: b.md}}\n"))
	_ = files.Write("b.md", []byte("{{include: a.md}}\n"))

	_, err := r.Resolve("entry.md", Options{})
	if !errors.Is(err, apperr.ErrCircularTransclusion) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolve_RecursiveFalseAvoidsCycleFailure(t *testing.T) {
	// Inserting a cycle member's raw content without expanding it never
	// enters the cycle, so it must succeed.
	r, files := newResolver(t)
	_ = files.Write("entry.md", []byte("{{include: a.md|recursive=false}}\n"))
	_ = files.Write("a.md", []byte("{{include: b.md}}"))
	_ = files.Write("b.md", []byte("{{include: a.md}}"))

	got, err := r.Resolve("entry.md", Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "{{include: b.md}}\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_MissingTarget(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("{{include: nowhere.md}}\n"))

	_, err := r.Resolve("host.md", Options{})
	var de *apperr.DirectiveError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DirectiveError", err)
	}
	if !errors.Is(err, apperr.ErrInvalidDirective) || !errors.Is(err, apperr.ErrNotFound) {
		t.Error("should match ErrInvalidDirective and ErrNotFound")
	}
	if de.Path != "host.md" || de.Line != 1 {
		t.Errorf("error context = %+v", de)
	}
}

func TestResolve_MalformedParams(t *testing.T) {
	r, files := newResolver(t)
	_ = files.Write("host.md", []byte("ok\n{{include: doc.md|lines=abc}}\n"))
	_ = files.Write("doc.md", []byte("x"))

	_, err := r.Resolve("host.md", Options{})
	var de *apperr.DirectiveError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DirectiveError", err)
	}
	if de.Line != 2 {
		t.Errorf("line = %d, want 2", de.Line)
	}
	if !strings.Contains(de.Reason, "lines") {
		t.Errorf("reason = %q", de.Reason)
	}
}

func TestResolve_MaxDepth(t *testing.T) {
	r, files := newResolver(t)
	// d0 → d1 → ... → d12, deeper than the default cap.
	for i := 0; i <= 12; i++ {
		content := "end"
		if i < 12 {
			content = fmt.Sprintf("{{include: d%d.md}}", i+1)
		}
		_ = files.Write(fmt.Sprintf("d%d.md", i), []byte(content))
	}

	if _, err := r.Resolve("d0.md", Options{}); err == nil {
		t.Fatal("expected max depth error")
	}

	// A generous cap lets the same chain resolve.
	got, err := r.Resolve("d0.md", Options{MaxDepth: 20})
	if err != nil {
		t.Fatalf("Resolve with MaxDepth 20: %v", err)
	}
	if got != "end" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_MissingStart(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Resolve("ghost.md", Options{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
