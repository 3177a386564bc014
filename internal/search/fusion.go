package search

import (
	"sort"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

// scored is one collection's best-scoring candidate for a doc_id, after
// stage-2 MaxSim rerank and stage-1 normalization.
type scored struct {
	id         string
	collection vectorstore.Collection
	index      int
	reprScore  float64
	maxSim     float64 // raw, absolute
	normalized float64 // maxSim / stage-1 top score of its collection
	metadata   vectorstore.Metadata
}

// Evidence is the secondary (non-primary) location fused into a Result
// when the same doc_id scores in both collections.
type Evidence struct {
	Collection  vectorstore.Collection
	ID          string
	Index       int
	ReprScore   float64
	MaxSimScore float64
	Metadata    vectorstore.Metadata
}

// Result is one fused, ranked hit: spec.md §4.8's "each carries its
// collection, original id, reconstructed metadata, and the two scores."
type Result struct {
	DocID       string
	Collection  vectorstore.Collection
	ID          string
	Index       int
	ReprScore   float64
	MaxSimScore float64
	FusedScore  float64
	Metadata    vectorstore.Metadata
	Evidence    *Evidence
}

// fuse combines per-collection best-scored candidates into ranked,
// per-doc results, per spec.md §4.8's Fusion stage: fixed 0.55/0.45
// weights when a doc_id appears in both, the lone score otherwise,
// primary/evidence split by which side scored higher, and the
// higher-MaxSim / newer-created_at / lexicographic-id tie-break chain.
func fuse(visual, text map[string]scored, visualWeight, textWeight float64) []Result {
	docIDs := make(map[string]struct{}, len(visual)+len(text))
	for id := range visual {
		docIDs[id] = struct{}{}
	}
	for id := range text {
		docIDs[id] = struct{}{}
	}

	results := make([]Result, 0, len(docIDs))
	for docID := range docIDs {
		v, hasV := visual[docID]
		t, hasT := text[docID]

		switch {
		case hasV && hasT:
			fused := visualWeight*v.normalized + textWeight*t.normalized
			primary, evidence := v, t
			if t.normalized > v.normalized {
				primary, evidence = t, v
			}
			results = append(results, Result{
				DocID:       docID,
				Collection:  primary.collection,
				ID:          primary.id,
				Index:       primary.index,
				ReprScore:   primary.reprScore,
				MaxSimScore: primary.maxSim,
				FusedScore:  fused,
				Metadata:    primary.metadata,
				Evidence: &Evidence{
					Collection:  evidence.collection,
					ID:          evidence.id,
					Index:       evidence.index,
					ReprScore:   evidence.reprScore,
					MaxSimScore: evidence.maxSim,
					Metadata:    evidence.metadata,
				},
			})
		case hasV:
			results = append(results, Result{
				DocID: docID, Collection: v.collection, ID: v.id, Index: v.index,
				ReprScore: v.reprScore, MaxSimScore: v.maxSim, FusedScore: v.normalized,
				Metadata: v.metadata,
			})
		case hasT:
			results = append(results, Result{
				DocID: docID, Collection: t.collection, ID: t.id, Index: t.index,
				ReprScore: t.reprScore, MaxSimScore: t.maxSim, FusedScore: t.normalized,
				Metadata: t.metadata,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.MaxSimScore != b.MaxSimScore {
			return a.MaxSimScore > b.MaxSimScore
		}
		if !a.Metadata.CreatedAt.Equal(b.Metadata.CreatedAt) {
			return a.Metadata.CreatedAt.After(b.Metadata.CreatedAt)
		}
		return a.ID < b.ID
	})
	return results
}

// bestPerDoc collapses a collection's reranked candidates to the single
// best-normalized-scoring one per doc_id (spec.md §4.8: "keep the best-
// scoring page for visual and best chunk for text").
func bestPerDoc(candidates []scored) map[string]scored {
	best := make(map[string]scored, len(candidates))
	for _, c := range candidates {
		docID := c.metadata.DocID
		existing, ok := best[docID]
		if !ok || c.normalized > existing.normalized {
			best[docID] = c
		}
	}
	return best
}
