package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/munin/internal/models"
)

// DOT renders the graph in Graphviz dot syntax. Transclusion edges are
// labelled, invalid edges drawn dashed in red.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph bank {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, fontsize=11];\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %q;\n", n)
	}
	for _, e := range g.Edges {
		var attrs []string
		if e.Kind == models.EdgeTransclusion {
			label := "include"
			if e.Section != "" {
				label = "include #" + e.Section
			}
			attrs = append(attrs, fmt.Sprintf("label=%q", label), "penwidth=2")
		}
		if e.Invalid {
			attrs = append(attrs, "style=dashed", "color=red")
		}
		if len(attrs) > 0 {
			fmt.Fprintf(&b, "  %q -> %q [%s];\n", e.Source, e.Target, strings.Join(attrs, ", "))
		} else {
			fmt.Fprintf(&b, "  %q -> %q;\n", e.Source, e.Target)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

var mermaidIDRe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Mermaid renders the graph as a mermaid flowchart: thick arrows for
// transclusions, dotted for invalid edges.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph LR\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s[%q]\n", mermaidID(n), n)
	}
	for _, e := range g.Edges {
		arrow := "-->"
		switch {
		case e.Invalid:
			arrow = "-.->"
		case e.Kind == models.EdgeTransclusion:
			arrow = "==>"
		}
		if e.Kind == models.EdgeTransclusion && e.Section != "" && !e.Invalid {
			fmt.Fprintf(&b, "  %s %s|%s| %s\n", mermaidID(e.Source), arrow, "#"+e.Section, mermaidID(e.Target))
		} else {
			fmt.Fprintf(&b, "  %s %s %s\n", mermaidID(e.Source), arrow, mermaidID(e.Target))
		}
	}
	return b.String()
}

func mermaidID(path string) string {
	return "n_" + mermaidIDRe.ReplaceAllString(path, "_")
}
