package mcp

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FormatAnswer renders an ask result as markdown.
func FormatAnswer(out AskOutput) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(out.Answer))
	sb.WriteString("\n\n---\n")

	switch {
	case out.Cached:
		sb.WriteString("_Answered from cache._\n")
	case len(out.Sources) == 0:
		sb.WriteString("_No matching passages were found; the answer is not grounded in the folder._\n")
	default:
		sb.WriteString("**Sources:** ")
		for i, src := range out.Sources {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "`%s`", src)
		}
		sb.WriteString("\n")
	}
	if len(out.Scope) > 0 {
		fmt.Fprintf(&sb, "**Scope:** %s\n", strings.Join(out.Scope, ", "))
	}
	return sb.String()
}

// FormatRefresh renders a refresh result as markdown.
func FormatRefresh(out RefreshOutput) string {
	var sb strings.Builder
	sb.WriteString("## Index Refreshed\n\n")
	fmt.Fprintf(&sb, "- **Files:** %d queryable\n", len(out.Files))
	fmt.Fprintf(&sb, "- **Built:** %s\n", listOrNone(out.Built))
	fmt.Fprintf(&sb, "- **Unchanged:** %s\n", listOrNone(out.Unchanged))
	fmt.Fprintf(&sb, "- **Chunks written:** %d\n", out.Chunks)
	fmt.Fprintf(&sb, "- **Duration:** %dms\n", out.DurationMS)

	if len(out.Failed) > 0 {
		sb.WriteString("\n### Failed\n\n")
		for _, name := range slices.Sorted(maps.Keys(out.Failed)) {
			fmt.Fprintf(&sb, "- `%s`: %s\n", name, out.Failed[name])
		}
	}
	return sb.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
