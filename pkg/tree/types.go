package tree

// EntryType distinguishes files from folders in a raw tree listing
type EntryType string

const (
	EntryFile   EntryType = "file"
	EntryFolder EntryType = "folder"
)

// Entry is one path in a repository tree listing
type Entry struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	Size int64     `json:"size,omitempty"`
	SHA  string    `json:"sha"`
	URL  string    `json:"url,omitempty"`
}

// Tree is a flat repository listing at a given revision
type Tree struct {
	SHA       string  `json:"sha"`
	Truncated bool    `json:"truncated"`
	Entries   []Entry `json:"entries"`
}
