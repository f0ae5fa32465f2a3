// Package parser extracts frontmatter, links, tags, and transclusion
// directives from Markdown content.
package parser

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/munin/internal/models"
)

var (
	wikilinkRe  = regexp.MustCompile(`\[\[(.*?)\]\]`)
	inlineRe    = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)
	directiveRe = regexp.MustCompile(`\{\{include:([^{}]*)\}\}`)
	tagRe       = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)
	closingRe   = regexp.MustCompile(`\s+#+\s*$`)
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Title       string
	Tags        []string
	Links       []models.LinkRef
	Directives  []models.Directive
}

// Parse extracts frontmatter, body, links, tags, and directives from raw
// Markdown bytes. Link and directive line numbers are 1-based positions
// in the original file, frontmatter included.
func Parse(data []byte) (*Result, error) {
	fm, body, bodyLine := splitFrontmatter(data)

	links, directives := scanBody(body, bodyLine)

	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
		Tags:        extractTags(body, fm),
		Links:       links,
		Directives:  directives,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading ---
// delimiters) from the Markdown body and reports the 1-based line the
// body starts on. If no frontmatter is found, or its YAML is invalid,
// the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, int) {
	const delim = "---"
	full := string(data)
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, full, 1
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter.
		return nil, full, 1
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, full, 1
	}

	// body is a literal suffix of the file, so the lines before it are
	// exactly the newlines in the consumed prefix.
	bodyLine := 1 + strings.Count(full[:len(full)-len(body)], "\n")
	return fm, body, bodyLine
}

// scanBody walks the body line by line collecting plain links (first
// occurrence per target) and every transclusion directive occurrence.
func scanBody(body string, bodyLine int) ([]models.LinkRef, []models.Directive) {
	var (
		links      []models.LinkRef
		directives []models.Directive
	)
	seen := make(map[string]struct{})

	for i, line := range strings.Split(body, "\n") {
		lineNo := bodyLine + i

		for _, d := range ScanDirectives(line) {
			d.Line = lineNo
			directives = append(directives, d)
		}

		// Strip directives before link scanning so a [[..]] inside a
		// directive target is not double-counted.
		stripped := directiveRe.ReplaceAllString(line, "")

		for _, m := range wikilinkRe.FindAllStringSubmatch(stripped, -1) {
			target := m[1]
			// [[Target|Alias]] → Target, [[Target#Section]] → Target.
			if j := strings.Index(target, "|"); j >= 0 {
				target = target[:j]
			}
			if j := strings.Index(target, "#"); j >= 0 {
				target = target[:j]
			}
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			links = append(links, models.LinkRef{Target: target, Line: lineNo})
		}

		for _, m := range inlineRe.FindAllStringSubmatch(stripped, -1) {
			target := m[1]
			if !localTarget(target) {
				continue
			}
			if j := strings.Index(target, "#"); j >= 0 {
				target = target[:j]
			}
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			links = append(links, models.LinkRef{Target: target, Line: lineNo})
		}
	}
	return links, directives
}

// DirectiveMatch is a directive occurrence together with its byte
// offsets in the scanned line: line[Start:End] == Raw.
type DirectiveMatch struct {
	models.Directive
	Start int
	End   int
}

// FindDirectives returns every transclusion directive occurrence in a
// single line of text with its position, left to right.
func FindDirectives(line string) []DirectiveMatch {
	var out []DirectiveMatch
	for _, idx := range directiveRe.FindAllStringSubmatchIndex(line, -1) {
		d := parseDirective(line[idx[2]:idx[3]])
		d.Raw = line[idx[0]:idx[1]]
		out = append(out, DirectiveMatch{Directive: d, Start: idx[0], End: idx[1]})
	}
	return out
}

// ScanDirectives returns every transclusion directive occurrence in a
// single line of text, with Raw set and Line zero.
func ScanDirectives(line string) []models.Directive {
	var out []models.Directive
	for _, m := range FindDirectives(line) {
		out = append(out, m.Directive)
	}
	return out
}

// parseDirective interprets the text between {{include: and }}. A
// directive that cannot be honored carries a non-empty Err instead of
// failing the whole parse; resolution refuses it, the graph flags it.
func parseDirective(inner string) models.Directive {
	d := models.Directive{Recursive: true}

	ref := inner
	params := ""
	if i := strings.Index(inner, "|"); i >= 0 {
		ref, params = inner[:i], inner[i+1:]
	}

	if i := strings.Index(ref, "#"); i >= 0 {
		d.Target = strings.TrimSpace(ref[:i])
		d.Section = strings.TrimSpace(ref[i+1:])
		if d.Section == "" {
			d.Err = "empty section name"
			return d
		}
	} else {
		d.Target = strings.TrimSpace(ref)
	}
	if d.Target == "" {
		d.Err = "empty target"
		return d
	}

	for _, seg := range strings.Split(params, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		eq := strings.Index(seg, "=")
		if eq < 0 {
			d.Err = fmt.Sprintf("malformed parameter %q", seg)
			return d
		}
		key := strings.ToLower(strings.TrimSpace(seg[:eq]))
		val := strings.TrimSpace(seg[eq+1:])
		switch key {
		case "lines":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				d.Err = fmt.Sprintf("lines must be a positive integer, got %q", val)
				return d
			}
			d.Lines = n
		case "recursive":
			b, err := strconv.ParseBool(val)
			if err != nil {
				d.Err = fmt.Sprintf("recursive must be a boolean, got %q", val)
				return d
			}
			d.Recursive = b
		default:
			d.Err = fmt.Sprintf("unknown parameter %q", key)
			return d
		}
	}
	return d
}

// localTarget reports whether an inline link target stays inside the
// bank (no scheme, no mailto, not a bare fragment).
func localTarget(target string) bool {
	if target == "" || strings.HasPrefix(target, "#") {
		return false
	}
	if strings.Contains(target, "://") || strings.HasPrefix(target, "mailto:") {
		return false
	}
	return true
}

// ResolveTarget turns a link or directive target into a bank-root-relative
// path. Targets starting with ./ or ../ are resolved against the source
// document's directory; everything else is taken from the bank root. A
// target without an extension refers to a Markdown document.
func ResolveTarget(sourcePath, target string) string {
	t := strings.TrimSpace(target)
	if t == "" {
		return ""
	}
	if strings.HasPrefix(t, "./") || strings.HasPrefix(t, "../") {
		t = path.Join(path.Dir(sourcePath), t)
	} else {
		t = path.Clean(t)
	}
	if path.Ext(t) == "" {
		t += ".md"
	}
	return t
}

// ExtractSection returns the content under the ATX heading whose text
// equals section (case-insensitive), up to the next heading of equal or
// higher level. The heading line itself is excluded. The second return
// is false when no such heading exists.
func ExtractSection(body, section string) (string, bool) {
	want := strings.TrimSpace(section)
	lines := strings.Split(body, "\n")

	start := -1
	level := 0
	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := closingRe.ReplaceAllString(m[2], "")
		if strings.EqualFold(strings.TrimSpace(text), want) {
			start = i + 1
			level = len(m[1])
			break
		}
	}
	if start < 0 {
		return "", false
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if m := headingRe.FindStringSubmatch(lines[i]); m != nil && len(m[1]) <= level {
			end = i
			break
		}
	}
	return strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n"), true
}

// HasSection reports whether body contains the named section heading.
func HasSection(body, section string) bool {
	_, ok := ExtractSection(body, section)
	return ok
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	// Tags from frontmatter.
	if fm != nil {
		if raw, ok := fm["tags"]; ok {
			switch v := raw.(type) {
			case []interface{}:
				for _, item := range v {
					if s, ok := item.(string); ok {
						s = strings.TrimSpace(s)
						if s != "" {
							if _, dup := seen[s]; !dup {
								seen[s] = struct{}{}
								out = append(out, s)
							}
						}
					}
				}
			}
		}
	}

	// Inline #tags from body.
	matches := tagRe.FindAllStringSubmatch(body, -1)
	for _, m := range matches {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the
// first H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
