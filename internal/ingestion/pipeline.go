// Package ingestion implements IngestionPipeline (spec.md §4.7): the
// submit → validate → parse → embed → store state machine that runs each
// document through bounded, cancellable, retrying worker-pool execution,
// generalized from the teacher's rag/service.Service staged Ingest method
// (internal/rag/service/service.go) from a single-shot call into a
// resumable task run against the docstatus/vectorstore/embedding
// contracts this spec defines.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/documents"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/telemetry"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/validation"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

// VectorStore is the subset of vectorstore.Store the pipeline needs,
// narrowed to an interface so tests can substitute a fake.
type VectorStore interface {
	UpsertVisual(ctx context.Context, docID string, items []vectorstore.UpsertItem) error
	UpsertText(ctx context.Context, docID string, items []vectorstore.UpsertItem) error
	Delete(ctx context.Context, docID string) error
}

// Clock abstracts time.Now for deterministic tests, matching the
// teacher's rag/service Clock seam.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Pipeline runs submitted documents through validate → parse → embed →
// store. Construct with New; safe for concurrent Submit/Cancel calls.
type Pipeline struct {
	validator *validation.FileValidator
	parsers   *documents.Registry
	engine    embedding.Engine
	store     VectorStore
	status    *docstatus.Manager
	clock     Clock
	recorder  *telemetry.Recorder

	maxFileSizeMB   int
	batchSizeVisual int
	batchSizeText   int

	sem *semaphore.Weighted

	mu        sync.Mutex
	inFlight  map[string]struct{} // doc_id currently queued or running, for at-most-once build
	cancelled map[string]struct{} // doc_id requested for cancellation
}

// Config carries the construction-time parameters New needs beyond its
// component dependencies.
type Config struct {
	Validator       *validation.FileValidator
	Parsers         *documents.Registry
	Engine          embedding.Engine
	Store           VectorStore
	Status          *docstatus.Manager
	WorkerThreads   int
	MaxFileSizeMB   int
	BatchSizeVisual int
	BatchSizeText   int
	Clock           Clock
	Recorder        *telemetry.Recorder // nil is a safe no-op
}

// New constructs a Pipeline with a bounded worker pool sized
// WorkerThreads (spec.md §4.7: "parallelism is across documents").
func New(cfg Config) *Pipeline {
	workers := cfg.WorkerThreads
	if workers <= 0 {
		workers = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Pipeline{
		validator:       cfg.Validator,
		parsers:         cfg.Parsers,
		engine:          cfg.Engine,
		store:           cfg.Store,
		status:          cfg.Status,
		clock:           clock,
		recorder:        cfg.Recorder,
		maxFileSizeMB:   cfg.MaxFileSizeMB,
		batchSizeVisual: cfg.BatchSizeVisual,
		batchSizeText:   cfg.BatchSizeText,
		sem:             semaphore.NewWeighted(int64(workers)),
		inFlight:        make(map[string]struct{}),
		cancelled:       make(map[string]struct{}),
	}
}

// RejectCode classifies why Submit rejected a file, so an HTTP adapter
// can map it to the §6 error envelope's SYMBOL without parsing Reason.
type RejectCode string

const (
	RejectUnsupportedFormat RejectCode = "UNSUPPORTED_FORMAT"
	RejectFileTooLarge      RejectCode = "FILE_TOO_LARGE"
)

// SubmitResult is what Submit returns.
type SubmitResult struct {
	DocID      string
	Rejected   bool       // true if validation failed; no StatusManager entry beyond a transient failed record
	RejectCode RejectCode // set only if Rejected
	Reason     string     // rejection reason, set only if Rejected
	Duplicate  bool       // true if an identical doc_id was already completed or already in flight
}

// Submit computes doc_id = sha256(file bytes), validates, and either
// returns an idempotent no-op, joins an in-flight build, or enqueues a new
// one, per spec.md §4.7's four-step submission algorithm.
func (p *Pipeline) Submit(ctx context.Context, path, originalFilename string) (SubmitResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("ingestion: read %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	docID := hex.EncodeToString(sum[:])

	if ok, reason := p.validator.Validate(originalFilename, int64(len(data)), p.maxFileSizeMB); !ok {
		p.recordTransientRejection(docID, originalFilename, reason)
		code := RejectFileTooLarge
		if typeOK, _ := p.validator.ValidateType(originalFilename); !typeOK {
			code = RejectUnsupportedFormat
		}
		return SubmitResult{DocID: docID, Rejected: true, RejectCode: code, Reason: reason}, nil
	}

	if existing, ok := p.status.Get(docID); ok && existing.State == docstatus.StateCompleted {
		return SubmitResult{DocID: docID, Duplicate: true}, nil
	}

	p.mu.Lock()
	if _, running := p.inFlight[docID]; running {
		p.mu.Unlock()
		return SubmitResult{DocID: docID, Duplicate: true}, nil
	}
	p.inFlight[docID] = struct{}{}
	p.mu.Unlock()

	if _, err := p.status.Create(docID, originalFilename, nil); err != nil {
		p.mu.Lock()
		delete(p.inFlight, docID)
		p.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("ingestion: create status: %w", err)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		delete(p.inFlight, docID)
		p.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("ingestion: acquire worker slot: %w", err)
	}

	go func() {
		defer p.sem.Release(1)
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, docID)
			delete(p.cancelled, docID)
			p.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("doc_id", docID).Interface("panic", r).Msg("ingestion: worker panic")
				_, _ = p.status.MarkFailed(docID, fmt.Sprintf("internal: %v", r))
			}
		}()
		// A document's own ingestion runs on its own background context so
		// a caller's request-scoped ctx (e.g. an HTTP handler) going away
		// doesn't abort an already-admitted document's processing.
		p.run(context.Background(), docID, originalFilename, data)
	}()

	return SubmitResult{DocID: docID}, nil
}

// recordTransientRejection creates a short-lived failed status entry so
// /status/{doc_id} has something to show callers, per spec.md §4.7's
// "a transient failed record visible for TTL".
func (p *Pipeline) recordTransientRejection(docID, filename, reason string) {
	if _, err := p.status.Create(docID, filename, nil); err != nil {
		return
	}
	_, _ = p.status.MarkFailed(docID, "rejected: "+reason)
}

// Cancel requests cancellation of an in-flight build. The task observes
// this at its next stage or batch boundary (spec.md §4.7).
func (p *Pipeline) Cancel(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.inFlight[docID]; running {
		p.cancelled[docID] = struct{}{}
	}
}

func (p *Pipeline) isCancelled(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancelled[docID]
	return ok
}

func (p *Pipeline) run(ctx context.Context, docID, filename string, data []byte) {
	if err := p.checkCancelled(docID); err != nil {
		p.fail(ctx, docID, err)
		return
	}

	t0 := p.clock.Now()
	parsed, err := p.stageParse(ctx, docID, filename, data)
	p.recorder.ObserveStage(ctx, "parse", p.clock.Now().Sub(t0))
	if err != nil {
		p.failAndClean(ctx, docID, "parse_error", err)
		return
	}

	if err := p.checkCancelled(docID); err != nil {
		p.fail(ctx, docID, err)
		return
	}

	t0 = p.clock.Now()
	visualItems, err := p.stageEmbedVisual(ctx, docID, parsed)
	p.recorder.ObserveStage(ctx, "embed_visual", p.clock.Now().Sub(t0))
	if err != nil {
		p.failAndClean(ctx, docID, "embed_visual_error", err)
		return
	}

	if err := p.checkCancelled(docID); err != nil {
		p.fail(ctx, docID, err)
		return
	}

	t0 = p.clock.Now()
	textItems, err := p.stageEmbedText(ctx, docID, parsed)
	p.recorder.ObserveStage(ctx, "embed_text", p.clock.Now().Sub(t0))
	if err != nil {
		p.failAndClean(ctx, docID, "embed_text_error", err)
		return
	}

	if err := p.checkCancelled(docID); err != nil {
		p.fail(ctx, docID, err)
		return
	}

	t0 = p.clock.Now()
	err = p.stageStore(ctx, docID, visualItems, textItems)
	p.recorder.ObserveStage(ctx, "store", p.clock.Now().Sub(t0))
	if err != nil {
		p.failAndClean(ctx, docID, "store_error", err)
		return
	}

	_, err = p.status.MarkCompleted(docID, map[string]any{
		"pages":        len(parsed.Pages),
		"chunks":       len(parsed.Chunks),
		"bytes_stored": len(data),
	})
	if err != nil {
		log.Error().Err(err).Str("doc_id", docID).Msg("ingestion: mark_completed failed")
		return
	}
	p.recorder.IncTotal(ctx, 1, attribute.String("format", extOf(filename)))
}

func (p *Pipeline) checkCancelled(docID string) error {
	if p.isCancelled(docID) {
		return fmt.Errorf("cancelled")
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, docID string, cause error) {
	_, _ = p.status.MarkFailed(docID, cause.Error())
	if err := p.store.Delete(ctx, docID); err != nil {
		log.Warn().Err(err).Str("doc_id", docID).Msg("ingestion: cleanup delete after cancel failed")
	}
}

func (p *Pipeline) failAndClean(ctx context.Context, docID, stage string, cause error) {
	_, _ = p.status.MarkFailed(docID, fmt.Sprintf("%s: %v", stage, cause))
	if err := p.store.Delete(ctx, docID); err != nil {
		log.Warn().Err(err).Str("doc_id", docID).Str("stage", stage).Msg("ingestion: cleanup delete after failure failed")
	}
}

func (p *Pipeline) stageParse(ctx context.Context, docID, filename string, data []byte) (documents.ParseResult, error) {
	_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateParsing, Progress: 0, Stage: "parsing"})

	ext := extOf(filename)
	parser, err := p.parsers.For(ext)
	if err != nil {
		return documents.ParseResult{}, err
	}

	var result documents.ParseResult
	err = withRetry(ctx, func(ctx context.Context) error {
		var perr error
		result, perr = parser.Parse(ctx, docID, filename, data)
		return perr
	})
	if err != nil {
		return documents.ParseResult{}, err
	}

	_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateParsing, Progress: 0.10, Stage: "parsed"})
	return result, nil
}

func extOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[i+1:]
		}
	}
	return ""
}

func (p *Pipeline) stageEmbedVisual(ctx context.Context, docID string, parsed documents.ParseResult) ([]vectorstore.UpsertItem, error) {
	if len(parsed.Pages) == 0 {
		return nil, nil
	}
	_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateEmbeddingVisual, Progress: 0.10, Stage: "embedding_visual"})

	items := make([]vectorstore.UpsertItem, 0, len(parsed.Pages))
	batchSize := p.batchSizeVisual
	if batchSize <= 0 {
		batchSize = len(parsed.Pages)
	}
	for start := 0; start < len(parsed.Pages); start += batchSize {
		if err := p.checkCancelled(docID); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > len(parsed.Pages) {
			end = len(parsed.Pages)
		}
		batch := parsed.Pages[start:end]
		images := make([][]byte, len(batch))
		for i, page := range batch {
			images[i] = page.ImageData
		}

		var tensors []embedding.Tensor
		err := withRetry(ctx, func(ctx context.Context) error {
			var eerr error
			tensors, eerr = p.engine.EmbedImages(ctx, images, batchSize)
			return Transient(eerr)
		})
		if err != nil {
			return nil, err
		}
		for i, page := range batch {
			page := page
			items = append(items, vectorstore.UpsertItem{
				Index:  page.PageNumber,
				Tensor: tensors[i],
				Metadata: vectorstore.Metadata{
					DocID:      docID,
					PageNumber: &page.PageNumber,
					CreatedAt:  p.clock.Now(),
				},
			})
		}
		// spec.md §3 progress table: embedding_visual is 0.10 + 0.50·(page/total_pages).
		progress := 0.10 + 0.50*float64(end)/float64(len(parsed.Pages))
		_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateEmbeddingVisual, Progress: progress, Stage: "embedding_visual"})
	}
	return items, nil
}

func (p *Pipeline) stageEmbedText(ctx context.Context, docID string, parsed documents.ParseResult) ([]vectorstore.UpsertItem, error) {
	if len(parsed.Chunks) == 0 {
		// Still record the embedding_text transition even with nothing to
		// embed (e.g. a scanned PDF with no extractable text) so the
		// document doesn't get stuck reporting embedding_visual forever.
		_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateEmbeddingText, Progress: 0.60, Stage: "embedding_text"})
		return nil, nil
	}
	_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateEmbeddingText, Progress: 0.60, Stage: "embedding_text"})

	items := make([]vectorstore.UpsertItem, 0, len(parsed.Chunks))
	batchSize := p.batchSizeText
	if batchSize <= 0 {
		batchSize = len(parsed.Chunks)
	}
	for start := 0; start < len(parsed.Chunks); start += batchSize {
		if err := p.checkCancelled(docID); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > len(parsed.Chunks) {
			end = len(parsed.Chunks)
		}
		batch := parsed.Chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var tensors []embedding.Tensor
		err := withRetry(ctx, func(ctx context.Context) error {
			var eerr error
			tensors, eerr = p.engine.EmbedText(ctx, texts, batchSize)
			return Transient(eerr)
		})
		if err != nil {
			return nil, err
		}
		for i, c := range batch {
			c := c
			items = append(items, vectorstore.UpsertItem{
				Index:  c.ChunkIndex,
				Tensor: tensors[i],
				Metadata: vectorstore.Metadata{
					DocID:       docID,
					ChunkIndex:  &c.ChunkIndex,
					PageNumber:  c.PageNumber,
					ContentType: string(c.ContentType),
					CreatedAt:   p.clock.Now(),
				},
			})
		}
		// spec.md §3 progress table: embedding_text is 0.60 + 0.30·(chunk/total_chunks).
		progress := 0.60 + 0.30*float64(end)/float64(len(parsed.Chunks))
		_, _ = p.status.Apply(docID, docstatus.Update{State: docstatus.StateEmbeddingText, Progress: progress, Stage: "embedding_text"})
	}
	return items, nil
}

func (p *Pipeline) stageStore(ctx context.Context, docID string, visual, text []vectorstore.UpsertItem) error {
	// spec.md §3 progress table: storing is a fixed 0.95, not a ramp.
	if _, err := p.status.Apply(docID, docstatus.Update{State: docstatus.StateStoring, Progress: 0.95, Stage: "storing"}); err != nil {
		return fmt.Errorf("ingestion: status transition to storing: %w", err)
	}

	// Re-ingest replaces a document's records wholesale: whatever an
	// earlier run stored under docID is deleted before the new set is written.
	if err := withRetry(ctx, func(ctx context.Context) error {
		return Transient(p.store.Delete(ctx, docID))
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if len(visual) > 0 {
		g.Go(func() error {
			return withRetry(gctx, func(ctx context.Context) error {
				return Transient(p.store.UpsertVisual(ctx, docID, visual))
			})
		})
	}
	if len(text) > 0 {
		g.Go(func() error {
			return withRetry(gctx, func(ctx context.Context) error {
				return Transient(p.store.UpsertText(ctx, docID, text))
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
