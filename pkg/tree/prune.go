package tree

import "strings"

// Exclusion is one path an LLM pass suggested removing
type Exclusion struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// PruneResult records which suggestions were applied and which did not
// match the tree
type PruneResult struct {
	Entries   []Entry
	Applied   []Exclusion
	Unmatched []Exclusion
}

// ApplySuggestions removes suggested paths from the tree. Only paths
// that actually exist are removed; unmatched suggestions are recorded
// and ignored so the model can never invent removals. Excluding a
// folder removes everything beneath it.
func ApplySuggestions(entries []Entry, suggestions []Exclusion) PruneResult {
	byPath := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		byPath[entry.Path] = entry
	}

	remove := make(map[string]struct{})
	var applied, unmatched []Exclusion
	for _, suggestion := range suggestions {
		path := strings.TrimSuffix(strings.TrimPrefix(suggestion.Path, "/"), "/")
		entry, ok := byPath[path]
		if !ok {
			unmatched = append(unmatched, suggestion)
			continue
		}
		remove[path] = struct{}{}
		if entry.Type == EntryFolder {
			prefix := path + "/"
			for _, candidate := range entries {
				if strings.HasPrefix(candidate.Path, prefix) {
					remove[candidate.Path] = struct{}{}
				}
			}
		}
		applied = append(applied, suggestion)
	}

	kept := make([]Entry, 0, len(entries))
	validFiles := make(map[string]struct{})
	for _, entry := range entries {
		if _, gone := remove[entry.Path]; gone {
			continue
		}
		if entry.Type == EntryFile {
			validFiles[entry.Path] = struct{}{}
		}
		kept = append(kept, entry)
	}

	// Excluding a folder's last file strands the folder: it has no
	// children to converge from, so it must go too.
	result := make([]Entry, 0, len(kept))
	for _, entry := range kept {
		if entry.Type == EntryFolder && !hasValidDescendant(entry.Path, validFiles) {
			continue
		}
		result = append(result, entry)
	}

	return PruneResult{Entries: result, Applied: applied, Unmatched: unmatched}
}
