package domain

import "time"

// Format tags the markup of a document's raw text.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a loose format name to a Format. Unknown names are plain text.
func ParseFormat(s string) Format {
	switch s {
	case "md", "markdown":
		return FormatMarkdown
	case "html", "htm":
		return FormatHTML
	default:
		return FormatPlain
	}
}

// Document is an immutable unit of source text identified by where it came from,
// e.g. "serde@1.0.210/serde/trait.Serialize.html" or "docs/guide.md".
type Document struct {
	ID      string
	Format  Format
	Content string
}

// Chunk is a span of a document used as the atomic retrieval unit.
// Start and End are byte offsets into Document.Content.
type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	Start       int
	End         int
	TokenCount  int
	Strategy    string
	HeadingPath []string
	Text        string
}

// Len returns the span length in bytes.
func (c Chunk) Len() int { return c.End - c.Start }

// IndexEntry pairs a chunk id and its owning document with the chunk's embedding.
type IndexEntry struct {
	ID         string
	DocumentID string
	Vector     []float32
}

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// RetrievalResult holds chunks ranked by descending score.
type RetrievalResult struct {
	Query   string
	Results []ScoredChunk
}

// Filters restrict which chunks a retrieval may return.
type Filters struct {
	// Documents, when non-empty, limits results to these document ids.
	Documents []string
	// ExcludeDocuments drops chunks owned by these document ids.
	ExcludeDocuments []string
	// MinScore drops results scoring below the threshold.
	MinScore *float64
}

// Allows reports whether a chunk owned by docID with the given score passes the filters.
func (f Filters) Allows(docID string, score float64) bool {
	if f.MinScore != nil && score < *f.MinScore {
		return false
	}
	for _, ex := range f.ExcludeDocuments {
		if ex == docID {
			return false
		}
	}
	if len(f.Documents) == 0 {
		return true
	}
	for _, id := range f.Documents {
		if id == docID {
			return true
		}
	}
	return false
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return len(f.Documents) == 0 && len(f.ExcludeDocuments) == 0 && f.MinScore == nil
}

// DocumentInfo summarizes a persisted document.
type DocumentInfo struct {
	ID          string
	Format      Format
	ContentHash string
	Chunks      int
	Bytes       int
	IngestedAt  time.Time
}
