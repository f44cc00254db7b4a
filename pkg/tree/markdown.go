package tree

import (
	"sort"
	"strings"
)

// RenderMarkdown produces an indented tree listing suitable for an LLM
// prompt. Folders sort before files at each level, folders get a
// trailing slash, and empty folders are omitted.
func RenderMarkdown(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}

	byPath := make(map[string]Entry, len(entries))
	children := make(map[string][]string)
	var roots []string

	for _, entry := range entries {
		byPath[entry.Path] = entry
		idx := strings.LastIndex(entry.Path, "/")
		if idx < 0 {
			roots = append(roots, entry.Path)
		} else {
			parent := entry.Path[:idx]
			children[parent] = append(children[parent], entry.Path)
		}
	}

	sortPaths := func(paths []string) {
		sort.Slice(paths, func(i, j int) bool {
			a, b := byPath[paths[i]], byPath[paths[j]]
			if a.Type != b.Type {
				return a.Type == EntryFolder
			}
			return paths[i] < paths[j]
		})
	}

	var sb strings.Builder
	var render func(path string, level int)
	render = func(path string, level int) {
		entry, ok := byPath[path]
		if !ok {
			return
		}
		if entry.Type == EntryFolder && len(children[path]) == 0 {
			return
		}
		sb.WriteString(strings.Repeat("  ", level))
		sb.WriteString(baseName(path))
		if entry.Type == EntryFolder {
			sb.WriteString("/")
		}
		sb.WriteString("\n")

		kids := children[path]
		sortPaths(kids)
		for _, child := range kids {
			render(child, level+1)
		}
	}

	sortPaths(roots)
	for _, root := range roots {
		render(root, 0)
	}
	return sb.String()
}
