package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/documents"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/validation"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

// fakeParser always returns one text chunk, ignoring file content.
type fakeParser struct{ formats []string }

func (p *fakeParser) SupportedFormats() []string { return p.formats }

func (p *fakeParser) Parse(ctx context.Context, docID, filename string, data []byte) (documents.ParseResult, error) {
	return documents.ParseResult{
		Format:   "txt",
		Category: documents.CategoryText,
		Chunks: []documents.TextChunk{
			{DocID: docID, ChunkIndex: 0, Text: string(data), ContentType: documents.ContentParagraph},
		},
	}, nil
}

// pagingParser produces one page so the embed_visual stage runs.
type pagingParser struct{}

func (p *pagingParser) SupportedFormats() []string { return []string{"png"} }

func (p *pagingParser) Parse(ctx context.Context, docID, filename string, data []byte) (documents.ParseResult, error) {
	return documents.ParseResult{
		Format:   "png",
		Category: documents.CategoryVisual,
		Pages:    []documents.PageImage{{DocID: docID, PageNumber: 1, ImageData: data}},
	}, nil
}

// gatedParser blocks inside Parse until gate is closed, signalling started
// once it has entered Parse, so a test can deterministically act while a
// stage is in flight instead of racing the worker goroutine's scheduling.
type gatedParser struct {
	started chan struct{}
	gate    chan struct{}
}

func (p *gatedParser) SupportedFormats() []string { return []string{"txt"} }

func (p *gatedParser) Parse(ctx context.Context, docID, filename string, data []byte) (documents.ParseResult, error) {
	close(p.started)
	<-p.gate
	return documents.ParseResult{
		Format:   "txt",
		Category: documents.CategoryText,
		Chunks: []documents.TextChunk{
			{DocID: docID, ChunkIndex: 0, Text: string(data), ContentType: documents.ContentParagraph},
		},
	}, nil
}

type fakeEngine struct {
	failImages bool
	failText   bool
}

func (e *fakeEngine) EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]embedding.Tensor, error) {
	if e.failImages {
		return nil, Transient(errors.New("device busy"))
	}
	out := make([]embedding.Tensor, len(images))
	for i := range images {
		out[i] = embedding.Tensor{{1, 0}, {0, 1}}
	}
	return out, nil
}

func (e *fakeEngine) EmbedText(ctx context.Context, texts []string, batchSize int) ([]embedding.Tensor, error) {
	if e.failText {
		return nil, Transient(errors.New("device busy"))
	}
	out := make([]embedding.Tensor, len(texts))
	for i := range texts {
		out[i] = embedding.Tensor{{1, 0}}
	}
	return out, nil
}

func (e *fakeEngine) EmbedQuery(ctx context.Context, text string) (embedding.Tensor, error) {
	return embedding.Tensor{{1, 0}}, nil
}
func (e *fakeEngine) Device() embedding.Device       { return embedding.DeviceCPU }
func (e *fakeEngine) Precision() embedding.Precision { return embedding.PrecisionFP32 }

type fakeStore struct {
	mu       sync.Mutex
	visual   map[string][]vectorstore.UpsertItem
	text     map[string][]vectorstore.UpsertItem
	deleted  []string
	failText bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{visual: map[string][]vectorstore.UpsertItem{}, text: map[string][]vectorstore.UpsertItem{}}
}

func (s *fakeStore) UpsertVisual(ctx context.Context, docID string, items []vectorstore.UpsertItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visual[docID] = items
	return nil
}

func (s *fakeStore) UpsertText(ctx context.Context, docID string, items []vectorstore.UpsertItem) error {
	if s.failText {
		return errors.New("store unreachable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text[docID] = items
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, docID)
	return nil
}

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func waitForTerminal(t *testing.T, status *docstatus.Manager, docID string) docstatus.ProcessingStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, ok := status.Get(docID)
		if ok && st.State.IsTerminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("doc %s did not reach a terminal state in time", docID)
	return docstatus.ProcessingStatus{}
}

func newTestPipeline(t *testing.T, engine embedding.Engine, store VectorStore, registerParser documents.Parser) (*Pipeline, *docstatus.Manager) {
	t.Helper()
	reg := documents.NewRegistry()
	reg.Register(registerParser)
	status := docstatus.NewManager(nil, time.Hour)
	p := New(Config{
		Validator:       validation.New([]string{"txt", "png"}),
		Parsers:         reg,
		Engine:          engine,
		Store:           store,
		Status:          status,
		WorkerThreads:   2,
		MaxFileSizeMB:   10,
		BatchSizeVisual: 10,
		BatchSizeText:   10,
	})
	return p, status
}

func TestPipeline_SubmitRunsToCompletion(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	p, status := newTestPipeline(t, engine, store, &fakeParser{formats: []string{"txt"}})

	path := writeTempFile(t, "report.txt", []byte("quarterly results"))
	res, err := p.Submit(context.Background(), path, "report.txt")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Rejected || res.Duplicate {
		t.Fatalf("unexpected result: %+v", res)
	}

	final := waitForTerminal(t, status, res.DocID)
	if final.State != docstatus.StateCompleted {
		t.Fatalf("state = %s, want completed (error=%q)", final.State, final.Error)
	}
	if final.Progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0", final.Progress)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.text[res.DocID]) != 1 {
		t.Fatalf("expected one text upsert item, got %d", len(store.text[res.DocID]))
	}
}

func TestPipeline_RejectsUnsupportedExtension(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	p, _ := newTestPipeline(t, engine, store, &fakeParser{formats: []string{"txt"}})

	path := writeTempFile(t, "archive.zip", []byte("not supported"))
	res, err := p.Submit(context.Background(), path, "archive.zip")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Rejected {
		t.Fatalf("expected rejection for unsupported extension")
	}
}

func TestPipeline_DuplicateSubmitWhileInFlightIsNoOp(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	p, status := newTestPipeline(t, engine, store, &fakeParser{formats: []string{"txt"}})

	path := writeTempFile(t, "dup.txt", []byte("same bytes every time"))
	first, err := p.Submit(context.Background(), path, "dup.txt")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	second, err := p.Submit(context.Background(), path, "dup.txt")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.DocID != first.DocID {
		t.Fatalf("doc ids differ for identical content: %s vs %s", first.DocID, second.DocID)
	}

	waitForTerminal(t, status, first.DocID)
}

func TestPipeline_VisualOnlyDocumentReachesCompleted(t *testing.T) {
	// A scanned page with no extractable text (pagingParser returns pages
	// but no chunks) must still reach a terminal state instead of getting
	// stuck at embedding_visual.
	engine := &fakeEngine{}
	store := newFakeStore()
	p, status := newTestPipeline(t, engine, store, &pagingParser{})

	path := writeTempFile(t, "scan.png", []byte("fake png bytes"))
	res, err := p.Submit(context.Background(), path, "scan.png")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForTerminal(t, status, res.DocID)
	if final.State != docstatus.StateCompleted {
		t.Fatalf("state = %s, want completed (error=%q)", final.State, final.Error)
	}
	if final.Progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0", final.Progress)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.visual[res.DocID]) != 1 {
		t.Fatalf("expected one visual upsert item, got %d", len(store.visual[res.DocID]))
	}
	if len(store.text[res.DocID]) != 0 {
		t.Fatalf("expected no text upsert items for a chunkless document, got %d", len(store.text[res.DocID]))
	}
}

func TestPipeline_EmbedVisualFailureCleansUpAndMarksFailed(t *testing.T) {
	engine := &fakeEngine{failImages: true}
	store := newFakeStore()
	p, status := newTestPipeline(t, engine, store, &pagingParser{})

	path := writeTempFile(t, "scan.png", []byte("fake png bytes"))
	res, err := p.Submit(context.Background(), path, "scan.png")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForTerminal(t, status, res.DocID)
	if final.State != docstatus.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deleted) != 1 || store.deleted[0] != res.DocID {
		t.Fatalf("expected cleanup delete for %s, got %v", res.DocID, store.deleted)
	}
}

func TestPipeline_StoreFailureMarksFailedAndDeletes(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	store.failText = true
	p, status := newTestPipeline(t, engine, store, &fakeParser{formats: []string{"txt"}})

	path := writeTempFile(t, "notes.txt", []byte("meeting notes"))
	res, err := p.Submit(context.Background(), path, "notes.txt")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForTerminal(t, status, res.DocID)
	if final.State != docstatus.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
}

func TestPipeline_CancelMarksFailedBeforeCompletion(t *testing.T) {
	engine := &fakeEngine{}
	store := newFakeStore()
	parser := &gatedParser{started: make(chan struct{}), gate: make(chan struct{})}
	p, status := newTestPipeline(t, engine, store, parser)

	path := writeTempFile(t, "cancel-me.txt", []byte("some content"))
	res, err := p.Submit(context.Background(), path, "cancel-me.txt")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-parser.started:
	case <-time.After(time.Second):
		t.Fatal("parse never started")
	}
	p.Cancel(res.DocID)
	close(parser.gate)

	final := waitForTerminal(t, status, res.DocID)
	if final.State != docstatus.StateFailed {
		t.Fatalf("state = %s, want failed (cancelled)", final.State)
	}
}
