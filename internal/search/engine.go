// Package search implements SearchEngine (spec.md §4.8): a two-stage
// ANN-recall-then-MaxSim-rerank hybrid search over the visual and text
// vector collections, with fixed-weight fusion and a bounded
// query-embedding cache. Grounded on the teacher's parallel FTS/vector
// candidate gathering (internal/rag/retrieve/candidates.go) and RRF-style
// fusion with deterministic tie-breaks (internal/rag/retrieve/fusion.go),
// adapted from reciprocal-rank fusion over two independent rankers to
// this spec's fixed-weight fusion over one MaxSim rerank stage.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/telemetry"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

// Mode selects which collections a query searches.
type Mode string

const (
	ModeHybrid     Mode = "hybrid"
	ModeVisualOnly Mode = "visual_only"
	ModeTextOnly   Mode = "text_only"
)

// Store is the subset of vectorstore.Store the search engine needs,
// narrowed to an interface so tests can substitute a fake.
type Store interface {
	AnnSearch(ctx context.Context, collection vectorstore.Collection, reprQuery []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchHit, error)
	GetFullBatch(ctx context.Context, collection vectorstore.Collection, ids []string) (map[string]vectorstore.FullRecord, error)
}

// Request is one search call's input, per spec.md §4.8's query model.
type Request struct {
	Query   string
	KFinal  int
	Mode    Mode
	Filters vectorstore.Filter
}

// Response is what Query returns: ranked results plus a deadline flag.
type Response struct {
	Results []Result
	Partial bool
}

// Engine answers Request with a fused, reranked Response.
type Engine struct {
	embedder     embedding.Engine
	store        Store
	cache        QueryCache
	modelVersion string
	recorder     *telemetry.Recorder

	visualWeight float64
	textWeight   float64

	stage1Deadline time.Duration
	stage2Deadline time.Duration
}

// Config configures NewEngine.
type Config struct {
	Embedder       embedding.Engine
	Store          Store
	Cache          QueryCache // nil disables caching
	ModelVersion   string     // part of the cache key alongside precision
	VisualWeight   float64    // default 0.55
	TextWeight     float64    // default 0.45
	Stage1Deadline time.Duration // default 2500ms
	Stage2Deadline time.Duration // default 2500ms
	Recorder       *telemetry.Recorder // nil is a safe no-op
}

// NewEngine builds a search Engine.
func NewEngine(cfg Config) *Engine {
	vw, tw := cfg.VisualWeight, cfg.TextWeight
	if vw == 0 && tw == 0 {
		vw, tw = 0.55, 0.45
	}
	s1 := cfg.Stage1Deadline
	if s1 <= 0 {
		s1 = 2500 * time.Millisecond
	}
	s2 := cfg.Stage2Deadline
	if s2 <= 0 {
		s2 = 2500 * time.Millisecond
	}
	return &Engine{
		embedder:       cfg.Embedder,
		store:          cfg.Store,
		cache:          cfg.Cache,
		modelVersion:   cfg.ModelVersion,
		recorder:       cfg.Recorder,
		visualWeight:   vw,
		textWeight:     tw,
		stage1Deadline: s1,
		stage2Deadline: s2,
	}
}

const (
	minKAnn = 50
	kAnnMultiplier = 4
)

// Query runs the full two-stage search.
func (e *Engine) Query(ctx context.Context, req Request) (Response, error) {
	kFinal := req.KFinal
	if kFinal <= 0 {
		kFinal = 10
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	t0 := time.Now()
	q, err := e.embedQuery(ctx, req.Query)
	e.recorder.ObserveStage(ctx, "embed_query", time.Since(t0))
	if err != nil {
		return Response{}, fmt.Errorf("search: embed_query: %w", err)
	}
	qRepr := q.Repr(0)

	collections := collectionsForMode(mode)
	kAnn := kFinal * kAnnMultiplier
	if kAnn < minKAnn {
		kAnn = minKAnn
	}

	stage1Ctx, cancel1 := context.WithTimeout(ctx, e.stage1Deadline)
	defer cancel1()
	t0 = time.Now()
	hits, partial := e.stage1Recall(stage1Ctx, collections, qRepr, kAnn, req.Filters)
	e.recorder.ObserveStage(ctx, "stage1_recall", time.Since(t0))

	stage2Ctx, cancel2 := context.WithTimeout(ctx, e.stage2Deadline)
	defer cancel2()
	t0 = time.Now()
	perCollection, stage2Partial := e.stage2Rerank(stage2Ctx, q, hits)
	e.recorder.ObserveStage(ctx, "stage2_rerank", time.Since(t0))
	partial = partial || stage2Partial

	var visualBest, textBest map[string]scored
	if mode != ModeTextOnly {
		visualBest = bestPerDoc(perCollection[vectorstore.CollectionVisual])
	} else {
		visualBest = map[string]scored{}
	}
	if mode != ModeVisualOnly {
		textBest = bestPerDoc(perCollection[vectorstore.CollectionText])
	} else {
		textBest = map[string]scored{}
	}

	t0 = time.Now()
	results := fuse(visualBest, textBest, e.visualWeight, e.textWeight)
	e.recorder.ObserveStage(ctx, "fusion", time.Since(t0))
	if len(results) > kFinal {
		results = results[:kFinal]
	}

	e.recorder.IncTotal(ctx, int64(len(results)), attribute.String("mode", string(mode)))
	return Response{Results: results, Partial: partial}, nil
}

func collectionsForMode(mode Mode) []vectorstore.Collection {
	switch mode {
	case ModeVisualOnly:
		return []vectorstore.Collection{vectorstore.CollectionVisual}
	case ModeTextOnly:
		return []vectorstore.Collection{vectorstore.CollectionText}
	default:
		return []vectorstore.Collection{vectorstore.CollectionVisual, vectorstore.CollectionText}
	}
}

func (e *Engine) embedQuery(ctx context.Context, query string) (embedding.Tensor, error) {
	if e.cache == nil {
		return e.embedder.EmbedQuery(ctx, query)
	}
	key := CacheKey(query, e.modelVersion, e.embedder.Precision())
	if cached, ok := e.cache.Get(ctx, key); ok {
		return cached, nil
	}
	q, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, q)
	return q, nil
}

// stage1Hits bundles one collection's ANN results with its top repr score.
type stage1Hits struct {
	collection   vectorstore.Collection
	hits         []vectorstore.SearchHit
	topReprScore float64
}

// stage1Recall runs AnnSearch over every requested collection in
// parallel, grounded on the teacher's ParallelCandidates fan-out
// (internal/rag/retrieve/candidates.go). A per-collection deadline miss
// drops that collection's results and flags the response partial rather
// than failing the whole query.
func (e *Engine) stage1Recall(ctx context.Context, collections []vectorstore.Collection, qRepr []float32, kAnn int, filter vectorstore.Filter) (map[vectorstore.Collection]stage1Hits, bool) {
	type result struct {
		collection vectorstore.Collection
		hits       []vectorstore.SearchHit
		err        error
	}
	ch := make(chan result, len(collections))
	for _, c := range collections {
		c := c
		go func() {
			hits, err := e.store.AnnSearch(ctx, c, qRepr, kAnn, filter)
			ch <- result{collection: c, hits: hits, err: err}
		}()
	}

	out := make(map[vectorstore.Collection]stage1Hits, len(collections))
	partial := false
	for range collections {
		r := <-ch
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				partial = true
				log.Warn().Str("collection", string(r.collection)).Msg("search: stage1 ann_search deadline exceeded")
				continue
			}
			log.Error().Err(r.err).Str("collection", string(r.collection)).Msg("search: stage1 ann_search failed")
			partial = true
			continue
		}
		top := 0.0
		for _, h := range r.hits {
			if h.ReprScore > top {
				top = h.ReprScore
			}
		}
		out[r.collection] = stage1Hits{collection: r.collection, hits: r.hits, topReprScore: top}
	}
	return out, partial
}

// stage2Rerank fetches full sequences for every stage-1 candidate and
// computes MaxSim, normalized by that collection's stage-1 top score.
func (e *Engine) stage2Rerank(ctx context.Context, q embedding.Tensor, stage1 map[vectorstore.Collection]stage1Hits) (map[vectorstore.Collection][]scored, bool) {
	out := make(map[vectorstore.Collection][]scored, len(stage1))
	partial := false

	for collection, s1 := range stage1 {
		if len(s1.hits) == 0 {
			continue
		}
		ids := make([]string, len(s1.hits))
		for i, h := range s1.hits {
			ids[i] = h.ID
		}
		records, err := e.store.GetFullBatch(ctx, collection, ids)
		if err != nil {
			log.Error().Err(err).Str("collection", string(collection)).Msg("search: stage2 get_full_batch failed")
			partial = true
			continue
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			partial = true
		}

		scoredHits := make([]scored, 0, len(s1.hits))
		for _, h := range s1.hits {
			rec, ok := records[h.ID]
			if !ok {
				continue
			}
			maxSim, err := embedding.MaxSim(q, rec.Seq)
			if err != nil {
				log.Warn().Err(err).Str("id", h.ID).Msg("search: maxsim failed, skipping candidate")
				continue
			}
			normalized := maxSim
			if s1.topReprScore > 0 {
				normalized = maxSim / s1.topReprScore
			}
			scoredHits = append(scoredHits, scored{
				id:         h.ID,
				collection: collection,
				index:      indexFromMetadata(h.Metadata),
				reprScore:  h.ReprScore,
				maxSim:     maxSim,
				normalized: normalized,
				metadata:   h.Metadata,
			})
		}
		sort.Slice(scoredHits, func(i, j int) bool { return scoredHits[i].normalized > scoredHits[j].normalized })
		out[collection] = scoredHits
	}
	return out, partial
}

func indexFromMetadata(m vectorstore.Metadata) int {
	if m.PageNumber != nil {
		return *m.PageNumber
	}
	if m.ChunkIndex != nil {
		return *m.ChunkIndex
	}
	return 0
}
