// Package documents defines the normalized document/page/chunk model and
// the pluggable Parser registry that turns raw file bytes into that model
// (spec.md §3, §4's DocumentParser interface, and §9's "duck-typed
// parsers" design note). Concrete parsers live alongside the interface so
// the ingestion pipeline has something to exercise end to end, but the
// interface itself — not any single format's accuracy — is the contract
// callers depend on.
package documents

import "time"

// FormatCategory buckets a document format by what kind of embedding path
// it takes through the pipeline.
type FormatCategory string

const (
	CategoryVisual FormatCategory = "visual"
	CategoryText   FormatCategory = "text"
	CategoryAudio  FormatCategory = "audio"
)

// Document is the identity and attribute record for one ingested file.
type Document struct {
	DocID      string
	Filename   string
	Format     string
	MIME       string
	SizeBytes  int64
	PageCount  *int
	IngestedAt time.Time
}

// PageImage is a rendered raster image handle for one 1-based page of a
// paginated, visual-format document.
type PageImage struct {
	DocID        string
	PageNumber   int
	Format       FormatCategory
	ImageData    []byte // encoded raster bytes (Rasterizer PNG, or a standalone image's original file bytes), empty if stored externally
	ObjectKey    string // objectstore key, set when ImageData was offloaded
	Width        int
	Height       int
}

// ChunkContentType tags what kind of text a Chunk holds.
type ChunkContentType string

const (
	ContentParagraph  ChunkContentType = "paragraph"
	ContentHeading    ChunkContentType = "heading"
	ContentTableCell  ChunkContentType = "table-cell"
	ContentCaption    ChunkContentType = "caption"
	ContentTranscript ChunkContentType = "transcript-line"
)

// TextChunk is a bounded, independently retrievable unit of document text.
type TextChunk struct {
	DocID       string
	ChunkIndex  int
	PageNumber  *int
	Text        string
	ContentType ChunkContentType
}

// ParseResult is what a Parser produces from one input file: ordered
// pages (empty for text-only formats), ordered chunks (empty for a
// paginated document with no extractable text), and free-form metadata.
type ParseResult struct {
	Pages    []PageImage
	Chunks   []TextChunk
	Format   string
	Category FormatCategory
	Metadata map[string]any
}
