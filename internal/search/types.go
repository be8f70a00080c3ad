// Package search runs hybrid queries: parallel keyword and vector
// retrieval merged with Reciprocal Rank Fusion, re-weighted by source
// priority.
package search

// Mode selects which retrieval sides run.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
)

// Options narrows and shapes one query.
type Options struct {
	// Limit is the maximum result count, 1 to 100. Zero means the
	// engine default.
	Limit int
	// Mode defaults to hybrid.
	Mode Mode
	// MinScore drops results below this weighted score.
	MinScore float64
	// SourceIDs restricts the query to these sources.
	SourceIDs []string
	// Repositories restricts to repository sources by name.
	Repositories []string
	// FolderNames restricts by immediate parent directory name.
	FolderNames []string
	// Extensions restricts by file extension; a leading dot is
	// accepted and ignored.
	Extensions []string
	// Languages restricts by detected language.
	Languages []string
	// ContentTypes restricts by content type.
	ContentTypes []string
	// DisableRewrite skips the query rewriter for this call.
	DisableRewrite bool
}

// Result is one hydrated hybrid search hit.
type Result struct {
	// DocID pairs the keyword and vector sides.
	DocID string
	// SourceID names the owning source.
	SourceID string
	// Repository is the owning source's name for repository sources.
	Repository string
	// Path is relative to the source root.
	Path string
	// FileName is the base name of the file.
	FileName string
	// FolderName is the immediate parent directory's name.
	FolderName string
	// Extension is the lowercase file extension without the dot.
	Extension string
	// Language is the detected language, may be empty.
	Language string
	// ContentType is code, markdown, text, or config.
	ContentType string
	// Score is the priority-weighted RRF score.
	Score float64
	// KeywordScore is the raw BM25 score, 0 when keyword side missed.
	KeywordScore float64
	// VectorScore is the raw similarity score, 0 when vector side
	// missed.
	VectorScore float64
	// Snippet is a bounded content excerpt.
	Snippet string
	// MatchedTerms are the keyword-side matched terms.
	MatchedTerms []string
	// InBoth reports whether both sides returned the document.
	InBoth bool
}
