package document

import "time"

// Block is one node of an editor document tree. Only heading blocks at
// level 2 are structurally significant; everything else is content.
type Block struct {
	Type    string  `json:"type"`
	Attrs   *Attrs  `json:"attrs,omitempty"`
	Content []Block `json:"content,omitempty"`
	Text    string  `json:"text,omitempty"`
}

// Attrs carries block attributes. Headings set Level.
type Attrs struct {
	Level int `json:"level,omitempty"`
}

// Tree is a document snapshot pushed by the editor collaborator.
type Tree struct {
	Content []Block `json:"content"`
}

// Status is a chapter's critique lifecycle state.
type Status string

const (
	StatusDormant  Status = "dormant"
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusOutdated Status = "outdated"
)

// Chapter is a level-2-heading-delimited span of manuscript text, the
// unit of scheduling and extraction. IDs are positional and reassigned
// on every sectionize pass; ContentHash is the only identity that
// survives structural edits.
type Chapter struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	WordCount   int       `json:"wordCount"`
	ContentHash string    `json:"contentHash"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Status      Status    `json:"status"`
}
