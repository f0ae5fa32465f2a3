package mcpserver

// DirectiveSyntaxContract describes the link and transclusion syntax
// that LLM consumers should follow when writing memory bank documents.
const DirectiveSyntaxContract = `# Munin Directive Syntax

Documents in the memory bank are Markdown files. Two constructs create
edges in the dependency graph.

## Plain links

` + "```" + `markdown
[[other-doc]]            wikilink; resolves to other-doc.md
[[folder/other-doc]]     path separators OK
[[other-doc|shown text]] alias form; the target is before the pipe
[text](relative/path.md) standard Markdown link to a bank file
` + "```" + `

Plain links are navigational only. They are never expanded, and a cycle
through plain links is legal.

## Transclusion directives

` + "```" + `markdown
{{include: path/to/doc.md}}
{{include: path/to/doc.md#Section Name}}
{{include: path/to/doc.md|lines=10}}
{{include: path/to/doc.md#Usage|lines=5,recursive=false}}
` + "```" + `

Rules:

1. **Target** is a path relative to the bank root, or relative to the
   including document when it starts with ` + "`" + `./` + "`" + ` or ` + "`" + `../` + "`" + `.
2. **#Section** selects one heading's content: the lines after the
   heading up to the next heading of the same or higher level. The
   match is case-insensitive.
3. **Parameters** come after ` + "`" + `|` + "`" + `, comma-separated ` + "`" + `key=value` + "`" + ` pairs:
   - ` + "`" + `lines=N` + "`" + ` keeps only the first N lines of the included content,
     applied after nested expansion.
   - ` + "`" + `recursive=false` + "`" + ` inserts the raw content without expanding
     directives inside it. Default is ` + "`" + `recursive=true` + "`" + `.
   Unknown keys or malformed values make the directive invalid.
4. **Expansion is fail-closed.** A missing target, a missing section, a
   malformed directive, or a transclusion cycle aborts the whole
   resolve with a typed error; there is no partial output.
5. **Frontmatter** of an included document is dropped; only its body is
   inserted. The including document keeps its own frontmatter.

## Edge kinds

Every wikilink or Markdown link yields a ` + "`" + `link` + "`" + ` edge; every directive
yields a ` + "`" + `transclusion` + "`" + ` edge. Cycle detection runs on transclusion
edges only. Edges with unresolvable targets or sections stay in the
graph flagged invalid so ` + "`" + `validate_links` + "`" + ` can report them.
`
