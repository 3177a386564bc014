package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/documents"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/events"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/ingestion"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/search"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/validation"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

type fakeParser struct{}

func (fakeParser) SupportedFormats() []string { return []string{"txt"} }
func (fakeParser) Parse(ctx context.Context, docID, filename string, data []byte) (documents.ParseResult, error) {
	return documents.ParseResult{Chunks: []documents.TextChunk{{DocID: docID, ChunkIndex: 0, Text: string(data)}}}, nil
}

type fakeEngine struct{}

func (fakeEngine) EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]embedding.Tensor, error) {
	return nil, nil
}
func (fakeEngine) EmbedText(ctx context.Context, texts []string, batchSize int) ([]embedding.Tensor, error) {
	out := make([]embedding.Tensor, len(texts))
	for i := range texts {
		out[i] = embedding.Tensor{{1, 0, 0}}
	}
	return out, nil
}
func (fakeEngine) EmbedQuery(ctx context.Context, text string) (embedding.Tensor, error) {
	return embedding.Tensor{{1, 0, 0}}, nil
}
func (fakeEngine) Device() embedding.Device       { return embedding.DeviceCPU }
func (fakeEngine) Precision() embedding.Precision { return embedding.PrecisionFP32 }

type fakeVectorStore struct{}

func (fakeVectorStore) UpsertVisual(ctx context.Context, docID string, items []vectorstore.UpsertItem) error {
	return nil
}
func (fakeVectorStore) UpsertText(ctx context.Context, docID string, items []vectorstore.UpsertItem) error {
	return nil
}
func (fakeVectorStore) Delete(ctx context.Context, docID string) error { return nil }

type fakeHealth struct {
	visual, text int
	err          error
}

func (f fakeHealth) Count(ctx context.Context, collection vectorstore.Collection) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if collection == vectorstore.CollectionText {
		return f.text, nil
	}
	return f.visual, nil
}

type fakeSearchStore struct {
	hits map[vectorstore.Collection][]vectorstore.SearchHit
	recs map[vectorstore.Collection]map[string]vectorstore.FullRecord
}

func (f fakeSearchStore) AnnSearch(ctx context.Context, collection vectorstore.Collection, reprQuery []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchHit, error) {
	return f.hits[collection], nil
}
func (f fakeSearchStore) GetFullBatch(ctx context.Context, collection vectorstore.Collection, ids []string) (map[string]vectorstore.FullRecord, error) {
	return f.recs[collection], nil
}

func newTestServer(t *testing.T) (*Server, *docstatus.Manager) {
	t.Helper()
	registry := documents.NewRegistry()
	registry.Register(fakeParser{})

	statusMgr := docstatus.NewManager(events.NewBus(), time.Hour)
	pipeline := ingestion.New(ingestion.Config{
		Validator:       validation.New([]string{"txt"}),
		Parsers:         registry,
		Engine:          fakeEngine{},
		Store:           fakeVectorStore{},
		Status:          statusMgr,
		WorkerThreads:   1,
		MaxFileSizeMB:   10,
		BatchSizeVisual: 10,
		BatchSizeText:   10,
	})

	now := time.Now()
	searchStore := fakeSearchStore{
		hits: map[vectorstore.Collection][]vectorstore.SearchHit{
			vectorstore.CollectionText: {
				{ID: "doc1:c:0", Collection: vectorstore.CollectionText, ReprScore: 0.8, Metadata: vectorstore.Metadata{DocID: "doc1", CreatedAt: now}},
			},
		},
		recs: map[vectorstore.Collection]map[string]vectorstore.FullRecord{
			vectorstore.CollectionText: {
				"doc1:c:0": {ID: "doc1:c:0", Seq: embedding.Tensor{{1, 0, 0}}, Metadata: vectorstore.Metadata{DocID: "doc1", CreatedAt: now}},
			},
		},
	}
	engine := search.NewEngine(search.Config{Embedder: fakeEngine{}, Store: searchStore})

	srv := NewServer(Config{
		Pipeline: pipeline,
		Status:   statusMgr,
		Engine:   engine,
		Bus:      events.NewBus(),
		Health:   fakeHealth{visual: 3, text: 7},
	})
	return srv, statusMgr
}

func TestHandleProcess_AcceptsSupportedFile(t *testing.T) {
	srv, statusMgr := newTestServer(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	body, _ := json.Marshal(processRequest{FilePath: path, Filename: "note.txt"})
	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	docID, _ := resp["doc_id"].(string)
	require.NotEmpty(t, docID)

	require.Eventually(t, func() bool {
		st, ok := statusMgr.Get(docID)
		return ok && st.State == docstatus.StateCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleProcess_RejectsUnsupportedFormat(t *testing.T) {
	srv, _ := newTestServer(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.exe")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o644))

	body, _ := json.Marshal(processRequest{FilePath: path, Filename: "payload.exe"})
	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, codeUnsupportedFormat, env.Code)
}

func TestHandleGetStatus_UnknownDocIDReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status/deadbeef", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, codeDocumentNotFound, env.Code)
}

func TestHandleStatusHealth_ReportsCollectionCounts(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		OK          bool           `json:"ok"`
		Collections map[string]int `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	require.Equal(t, 3, resp.Collections["visual"])
	require.Equal(t, 7, resp.Collections["text"])
}

func TestHandleSearch_ReturnsFusedResults(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(searchRequest{Query: "hello", K: 5})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []map[string]any `json:"results"`
		Partial bool             `json:"partial"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.Equal(t, "doc1", resp.Results[0]["doc_id"])
}

func TestHandleSearch_RejectsEmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(searchRequest{Query: "", K: 5})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS_RejectsOriginNotInAllowlist(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
