package parser

import (
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - munin\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "munin" {
		t.Errorf("tags = %v, want [go munin]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestParse_Links(t *testing.T) {
	input := []byte("See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again.\nPlain [ref](topics/c.md) too.\nBut [ext](https://example.com) and [frag](#here) stay out.")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Links) != 3 {
		t.Fatalf("links = %+v, want 3", r.Links)
	}
	if r.Links[0].Target != "Note A" || r.Links[0].Line != 1 {
		t.Errorf("links[0] = %+v", r.Links[0])
	}
	if r.Links[1].Target != "Note B" || r.Links[1].Line != 1 {
		t.Errorf("links[1] = %+v", r.Links[1])
	}
	if r.Links[2].Target != "topics/c.md" || r.Links[2].Line != 3 {
		t.Errorf("links[2] = %+v", r.Links[2])
	}
}

func TestParse_LinkLinesAfterFrontmatter(t *testing.T) {
	input := []byte("---\ntitle: T\n---\nintro\n[[Target]]\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Links) != 1 {
		t.Fatalf("links = %+v", r.Links)
	}
	// ---, title, ---, intro, [[Target]] → line 5 of the file.
	if r.Links[0].Line != 5 {
		t.Errorf("line = %d, want 5", r.Links[0].Line)
	}
}

func TestParse_EmptyLinkTargets(t *testing.T) {
	r, _ := Parse([]byte("see [[ ]] and [[|alias]]"))
	if len(r.Links) != 0 {
		t.Errorf("expected no links, got %v", r.Links)
	}
}

func TestParse_Directives(t *testing.T) {
	input := []byte("before\n{{include: shared/header.md}}\ntext {{include: api.md#Endpoints|lines=3}} after\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Directives) != 2 {
		t.Fatalf("directives = %+v, want 2", r.Directives)
	}
	d0 := r.Directives[0]
	if d0.Target != "shared/header.md" || d0.Section != "" || d0.Line != 2 || !d0.Recursive || d0.Err != "" {
		t.Errorf("d0 = %+v", d0)
	}
	d1 := r.Directives[1]
	if d1.Target != "api.md" || d1.Section != "Endpoints" || d1.Lines != 3 || d1.Line != 3 {
		t.Errorf("d1 = %+v", d1)
	}
	if d1.Raw != "{{include: api.md#Endpoints|lines=3}}" {
		t.Errorf("raw = %q", d1.Raw)
	}
}

func TestParse_DirectiveEveryOccurrenceKept(t *testing.T) {
	input := []byte("{{include: a.md}}\n{{include: a.md}}\n")
	r, _ := Parse(input)
	if len(r.Directives) != 2 {
		t.Fatalf("directives = %+v, want both occurrences", r.Directives)
	}
}

func TestParse_DirectiveParamErrors(t *testing.T) {
	cases := []struct {
		in     string
		substr string
	}{
		{"{{include: a.md|lines=abc}}", "lines"},
		{"{{include: a.md|lines=0}}", "lines"},
		{"{{include: a.md|lines=-2}}", "lines"},
		{"{{include: a.md|recursive=maybe}}", "recursive"},
		{"{{include: a.md|color=red}}", "unknown"},
		{"{{include: a.md|oops}}", "malformed"},
		{"{{include: a.md#}}", "section"},
		{"{{include: }}", "target"},
	}
	for _, c := range cases {
		r, _ := Parse([]byte(c.in))
		if len(r.Directives) != 1 {
			t.Fatalf("%q: directives = %+v", c.in, r.Directives)
		}
		d := r.Directives[0]
		if d.Err == "" {
			t.Errorf("%q: expected a directive error", c.in)
			continue
		}
		if !strings.Contains(d.Err, c.substr) {
			t.Errorf("%q: err = %q, want substring %q", c.in, d.Err, c.substr)
		}
	}
}

func TestParse_DirectiveParamPolicy(t *testing.T) {
	// Keys are case-insensitive; duplicates take the last value.
	r, _ := Parse([]byte("{{include: a.md|LINES=5,lines=2,Recursive=false}}"))
	d := r.Directives[0]
	if d.Err != "" {
		t.Fatalf("unexpected err %q", d.Err)
	}
	if d.Lines != 2 || d.Recursive {
		t.Errorf("d = %+v, want lines=2 recursive=false", d)
	}
}

func TestResolveTarget(t *testing.T) {
	cases := []struct {
		source, target, want string
	}{
		{"notes/a.md", "b.md", "b.md"},
		{"notes/a.md", "./b.md", "notes/b.md"},
		{"notes/a.md", "../shared/b.md", "shared/b.md"},
		{"a.md", "Project Brief", "Project Brief.md"},
		{"a.md", "topics/deep", "topics/deep.md"},
		{"a.md", "img/logo.png", "img/logo.png"},
	}
	for _, c := range cases {
		if got := ResolveTarget(c.source, c.target); got != c.want {
			t.Errorf("ResolveTarget(%q, %q) = %q, want %q", c.source, c.target, got, c.want)
		}
	}
}

func TestExtractSection(t *testing.T) {
	body := "# Doc\nintro\n## Setup\nstep one\nstep two\n### Detail\nfine print\n## Usage\nrun it\n"
	got, ok := ExtractSection(body, "Setup")
	if !ok {
		t.Fatal("section not found")
	}
	want := "step one\nstep two\n### Detail\nfine print"
	if got != want {
		t.Errorf("section = %q, want %q", got, want)
	}
}

func TestExtractSection_CaseInsensitive(t *testing.T) {
	body := "## Setup\ncontent\n"
	if _, ok := ExtractSection(body, "setup"); !ok {
		t.Error("expected case-insensitive heading match")
	}
}

func TestExtractSection_Missing(t *testing.T) {
	if _, ok := ExtractSection("# Only\ntext", "Nope"); ok {
		t.Error("expected missing section")
	}
}

func TestExtractSection_ClosingHashes(t *testing.T) {
	body := "## Setup ##\ncontent\n"
	got, ok := ExtractSection(body, "Setup")
	if !ok || got != "content" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	body := "Some text #beta and #alpha again."
	tags := extractTags(body, fm)
	// alpha from FM, beta from body; alpha not duplicated.
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	body := "# H1 Title\ntext"
	title := deriveTitle(fm, body)
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}
