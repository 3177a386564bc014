package search

import (
	"testing"
	"time"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

func TestFuse_DocInBothCollectionsUsesFixedWeights(t *testing.T) {
	now := time.Now()
	visual := map[string]scored{
		"doc1": {id: "doc1:p:0", collection: vectorstore.CollectionVisual, normalized: 1.0, maxSim: 10, metadata: vectorstore.Metadata{DocID: "doc1", CreatedAt: now}},
	}
	text := map[string]scored{
		"doc1": {id: "doc1:c:0", collection: vectorstore.CollectionText, normalized: 0.5, maxSim: 5, metadata: vectorstore.Metadata{DocID: "doc1", CreatedAt: now}},
	}

	results := fuse(visual, text, 0.55, 0.45)
	if len(results) != 1 {
		t.Fatalf("expected 1 fused result, got %d", len(results))
	}
	want := 0.55*1.0 + 0.45*0.5
	if results[0].FusedScore != want {
		t.Fatalf("expected fused score %v, got %v", want, results[0].FusedScore)
	}
	if results[0].Collection != vectorstore.CollectionVisual {
		t.Fatalf("expected visual as primary since it scored higher")
	}
	if results[0].Evidence == nil || results[0].Evidence.Collection != vectorstore.CollectionText {
		t.Fatalf("expected text attached as evidence")
	}
}

func TestFuse_DocInOneCollectionUsesLoneScore(t *testing.T) {
	now := time.Now()
	visual := map[string]scored{
		"doc1": {id: "doc1:p:0", collection: vectorstore.CollectionVisual, normalized: 0.7, maxSim: 7, metadata: vectorstore.Metadata{DocID: "doc1", CreatedAt: now}},
	}
	results := fuse(visual, map[string]scored{}, 0.55, 0.45)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].FusedScore != 0.7 {
		t.Fatalf("expected lone normalized score 0.7, got %v", results[0].FusedScore)
	}
	if results[0].Evidence != nil {
		t.Fatalf("expected no evidence for a doc in only one collection")
	}
}

func TestFuse_TieBreaksByMaxSimThenCreatedAtThenID(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Hour)
	visual := map[string]scored{
		"doc1": {id: "doc1:p:0", collection: vectorstore.CollectionVisual, normalized: 0.5, maxSim: 5, metadata: vectorstore.Metadata{DocID: "doc1", CreatedAt: now}},
		"doc2": {id: "doc2:p:0", collection: vectorstore.CollectionVisual, normalized: 0.5, maxSim: 5, metadata: vectorstore.Metadata{DocID: "doc2", CreatedAt: older}},
	}
	results := fuse(visual, map[string]scored{}, 0.55, 0.45)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].DocID != "doc1" {
		t.Fatalf("expected doc1 (more recent created_at) to rank first on a fused-score tie, got %s", results[0].DocID)
	}
}

func TestBestPerDoc_KeepsHighestNormalizedPerDoc(t *testing.T) {
	candidates := []scored{
		{id: "doc1:p:0", normalized: 0.3, metadata: vectorstore.Metadata{DocID: "doc1"}},
		{id: "doc1:p:1", normalized: 0.9, metadata: vectorstore.Metadata{DocID: "doc1"}},
		{id: "doc2:p:0", normalized: 0.1, metadata: vectorstore.Metadata{DocID: "doc2"}},
	}
	best := bestPerDoc(candidates)
	if len(best) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(best))
	}
	if best["doc1"].id != "doc1:p:1" {
		t.Fatalf("expected doc1's best candidate to be doc1:p:1, got %s", best["doc1"].id)
	}
}
