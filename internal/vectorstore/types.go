// Package vectorstore implements the two-collection (visual/text) record
// store from spec.md §4.6: a representative D-vector per record for ANN
// recall, plus a compressed full T×D tensor (or an object-store sidecar
// reference for oversized ones) for MaxSim reranking.
package vectorstore

import (
	"fmt"
	"time"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
)

// Collection names the two logical collections spec.md §4.6 defines.
type Collection string

const (
	CollectionVisual Collection = "visual"
	CollectionText   Collection = "text"
)

// Kind is the second component of a record id: "p" for a page, "c" for a
// chunk, per spec.md §4.6's `{doc_id}:{kind}:{index}` id format.
type Kind string

const (
	KindPage  Kind = "p"
	KindChunk Kind = "c"
)

// RecordID formats the `{doc_id}:{kind}:{index}` id spec.md §4.6 requires.
func RecordID(docID string, kind Kind, index int) string {
	return fmt.Sprintf("%s:%s:%d", docID, kind, index)
}

// Metadata is the `meta` field of a record.
type Metadata struct {
	DocID       string
	Filename    string
	PageNumber  *int
	ChunkIndex  *int
	ContentType string
	CreatedAt   time.Time
}

// UpsertItem is one page or chunk's embedding plus metadata, as passed to
// UpsertVisual/UpsertText.
type UpsertItem struct {
	Index    int
	Tensor   embedding.Tensor
	Metadata Metadata
}

// SearchHit is one ANN-recall result: `(id, repr_score, meta)`.
type SearchHit struct {
	ID       string
	Collection Collection
	ReprScore float64
	Metadata  Metadata
}

// FullRecord is the decoded result of get_full: the full T×D tensor plus
// metadata.
type FullRecord struct {
	ID       string
	Seq      embedding.Tensor
	Metadata Metadata
}

// Filter narrows ann_search. Only a DocIDs list of exactly one element is
// applied, as a server-side exact match; a DocIDs list of two or more,
// After and Before are not applied anywhere.
type Filter struct {
	DocIDs []string
	After  time.Time
	Before time.Time
}
