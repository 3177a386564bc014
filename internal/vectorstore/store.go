package vectorstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/objectstore"
)

const (
	payloadDocID       = "doc_id"
	payloadFilename    = "filename"
	payloadPageNumber  = "page_number"
	payloadChunkIndex  = "chunk_index"
	payloadContentType = "content_type"
	payloadCreatedAt   = "created_at"
	payloadSeqT        = "seq_t"
	payloadSeqD        = "seq_d"
	payloadSeqBlob     = "seq_blob"     // base64-encoded gzip blob, present when inline
	payloadSeqObjectKey = "seq_object_key" // objectstore key, present when sidecar'd

	defaultMaxInlineBlobBytes = 32 * 1024
)

// Store is a two-collection (visual/text) Qdrant-backed implementation of
// spec.md §4.6's VectorStore contract, generalizing the teacher's
// single-vector qdrantVector (internal/persistence/databases/qdrant_vector.go)
// to this spec's repr+seq_blob+seq_shape+meta record schema.
type Store struct {
	client *qdrant.Client
	dim    int

	visualCollection string
	textCollection   string

	objects             objectstore.Store
	maxInlineBlobBytes  int
	reprTokenIndex      int
}

// Config configures NewStore.
type Config struct {
	DSN                string // e.g. "http://localhost:6334?api_key=..."
	VisualCollection   string // default "visual"
	TextCollection     string // default "text"
	Dimension          int    // repr/seq row width, fixed at bootstrap per spec.md §3
	Objects            objectstore.Store
	MaxInlineBlobBytes int // default 32KiB; larger seq_blob payloads sidecar to Objects
	ReprTokenIndex     int // which tensor row is "repr"; default 0 (spec.md §9 open question)
}

// NewStore connects to Qdrant (gRPC, default port 6334) and ensures both
// collections exist, cosine distance on the repr vector.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorstore: dimension must be > 0")
	}
	visual := cfg.VisualCollection
	if visual == "" {
		visual = "visual"
	}
	text := cfg.TextCollection
	if text == "" {
		text = "text"
	}
	maxInline := cfg.MaxInlineBlobBytes
	if maxInline <= 0 {
		maxInline = defaultMaxInlineBlobBytes
	}

	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid port in dsn: %w", err)
	}
	qcfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}

	s := &Store{
		client:             client,
		dim:                cfg.Dimension,
		visualCollection:   visual,
		textCollection:     text,
		objects:            cfg.Objects,
		maxInlineBlobBytes: maxInline,
		reprTokenIndex:     cfg.ReprTokenIndex,
	}
	for _, name := range []string{visual, text} {
		if err := s.ensureCollection(ctx, name); err != nil {
			client.Close()
			return nil, fmt.Errorf("vectorstore: ensure collection %q: %w", name, err)
		}
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (s *Store) collectionName(c Collection) string {
	if c == CollectionText {
		return s.textCollection
	}
	return s.visualCollection
}

// UpsertVisual atomically replaces the per-page records for doc_id, per
// spec.md §4.6: "Replaces any pre-existing (doc_id, page_number)."
func (s *Store) UpsertVisual(ctx context.Context, docID string, items []UpsertItem) error {
	return s.upsert(ctx, CollectionVisual, KindPage, docID, items)
}

// UpsertText is UpsertVisual's per-chunk counterpart.
func (s *Store) UpsertText(ctx context.Context, docID string, items []UpsertItem) error {
	return s.upsert(ctx, CollectionText, KindChunk, docID, items)
}

func (s *Store) upsert(ctx context.Context, collection Collection, kind Kind, docID string, items []UpsertItem) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		point, err := s.buildPoint(ctx, docID, kind, item)
		if err != nil {
			return fmt.Errorf("vectorstore: build point %s: %w", RecordID(docID, kind, item.Index), err)
		}
		points = append(points, point)
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName(collection),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

// buildPoint packs one item into a single PointStruct: repr as the dense
// vector, everything else (seq_blob/seq_shape/meta) as payload, built and
// upserted as one atomic call so a reader never observes a mix of old
// repr and new seq_blob (spec.md §4.6's consistency requirement).
func (s *Store) buildPoint(ctx context.Context, docID string, kind Kind, item UpsertItem) (*qdrant.PointStruct, error) {
	id := RecordID(docID, kind, item.Index)
	repr := item.Tensor.Repr(s.reprTokenIndex)
	if repr == nil {
		return nil, fmt.Errorf("empty tensor")
	}

	shape, blob, err := packTensor(item.Tensor)
	if err != nil {
		return nil, err
	}

	meta := item.Metadata
	meta.DocID = docID
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	payload := map[string]any{
		payloadDocID:     meta.DocID,
		payloadFilename:  meta.Filename,
		payloadCreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
		payloadSeqT:      shape.T,
		payloadSeqD:      shape.D,
	}
	if meta.PageNumber != nil {
		payload[payloadPageNumber] = *meta.PageNumber
	}
	if meta.ChunkIndex != nil {
		payload[payloadChunkIndex] = *meta.ChunkIndex
	}
	if meta.ContentType != "" {
		payload[payloadContentType] = meta.ContentType
	}

	if len(blob) > s.maxInlineBlobBytes && s.objects != nil {
		key := sidecarKey(id)
		if _, err := s.objects.Put(ctx, key, bytes.NewReader(blob), objectstore.PutOptions{ContentType: "application/gzip"}); err != nil {
			return nil, fmt.Errorf("sidecar put: %w", err)
		}
		payload[payloadSeqObjectKey] = key
	} else {
		payload[payloadSeqBlob] = base64.StdEncoding.EncodeToString(blob)
	}

	pointID := qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
	vec := make([]float32, len(repr))
	copy(vec, repr)

	return &qdrant.PointStruct{
		Id:      pointID,
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(mergeOriginalID(payload, id)),
	}, nil
}

const payloadOriginalID = "_original_id"

func mergeOriginalID(payload map[string]any, id string) map[string]any {
	payload[payloadOriginalID] = id
	return payload
}

func sidecarKey(id string) string { return "seq/" + id + ".bin.gz" }

// AnnSearch performs stage-1 candidate recall: cosine similarity on repr.
func (s *Store) AnnSearch(ctx context.Context, collection Collection, reprQuery []float32, k int, filter Filter) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(reprQuery))
	copy(vec, reprQuery)

	var qf *qdrant.Filter
	if conditions := filterConditions(filter); len(conditions) > 0 {
		qf = &qdrant.Filter{Must: conditions}
	}

	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName(collection),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: ann_search: %w", err)
	}

	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		id, meta := decodePayload(hit.Payload)
		out = append(out, SearchHit{
			ID:         id,
			Collection: collection,
			ReprScore:  float64(hit.Score),
			Metadata:   meta,
		})
	}
	return out, nil
}

func filterConditions(f Filter) []*qdrant.Condition {
	var conditions []*qdrant.Condition
	if len(f.DocIDs) == 1 {
		conditions = append(conditions, qdrant.NewMatch(payloadDocID, f.DocIDs[0]))
	}
	// Multi-doc_id and date-range filters produce no condition here, and
	// neither AnnSearch nor SearchEngine post-filters the returned hits.
	return conditions
}

// GetFull decodes one record's full seq tensor and metadata.
func (s *Store) GetFull(ctx context.Context, collection Collection, id string) (FullRecord, error) {
	results, err := s.GetFullBatch(ctx, collection, []string{id})
	if err != nil {
		return FullRecord{}, err
	}
	rec, ok := results[id]
	if !ok {
		return FullRecord{}, fmt.Errorf("vectorstore: record %q not found", id)
	}
	return rec, nil
}

// GetFullBatch fetches every id in one round trip.
func (s *Store) GetFullBatch(ctx context.Context, collection Collection, ids []string) (map[string]FullRecord, error) {
	if len(ids) == 0 {
		return map[string]FullRecord{}, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName(collection),
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get_full_batch: %w", err)
	}

	out := make(map[string]FullRecord, len(points))
	for _, p := range points {
		id, meta := decodePayload(p.Payload)
		seq, err := s.decodeSeq(ctx, p.Payload)
		if err != nil {
			log.Warn().Str("id", id).Err(err).Msg("vectorstore: failed to decode seq, skipping record")
			continue
		}
		out[id] = FullRecord{ID: id, Seq: seq, Metadata: meta}
	}
	return out, nil
}

func (s *Store) decodeSeq(ctx context.Context, payload map[string]*qdrant.Value) (embedding.Tensor, error) {
	t := int(getInt(payload, payloadSeqT))
	d := int(getInt(payload, payloadSeqD))
	shape := Shape{T: t, D: d}

	if key := getString(payload, payloadSeqObjectKey); key != "" {
		if s.objects == nil {
			return nil, fmt.Errorf("seq stored in object store but no object store configured")
		}
		rc, _, err := s.objects.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("sidecar get %q: %w", key, err)
		}
		defer rc.Close()
		blob, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read sidecar blob: %w", err)
		}
		return unpackTensor(shape, blob)
	}

	encoded := getString(payload, payloadSeqBlob)
	if encoded == "" {
		return nil, fmt.Errorf("record has neither inline nor sidecar seq_blob")
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 seq_blob: %w", err)
	}
	return unpackTensor(shape, blob)
}

// Delete removes all entries with matching meta.doc_id in both
// collections, per spec.md §4.6.
func (s *Store) Delete(ctx context.Context, docID string) error {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocID, docID)}}
	for _, name := range []string{s.visualCollection, s.textCollection} {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		if err != nil {
			return fmt.Errorf("vectorstore: delete doc_id=%s from %s: %w", docID, name, err)
		}
	}
	return nil
}

// Count reports the number of points currently stored in collection, for
// the /status/health `{collections:{visual:N, text:M}}` surface.
func (s *Store) Count(ctx context.Context, collection Collection) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName(collection),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count %s: %w", collection, err)
	}
	return int(n), nil
}

// Close releases the underlying Qdrant client connection.
func (s *Store) Close() error { return s.client.Close() }

func decodePayload(payload map[string]*qdrant.Value) (string, Metadata) {
	meta := Metadata{
		DocID:       getString(payload, payloadDocID),
		Filename:    getString(payload, payloadFilename),
		ContentType: getString(payload, payloadContentType),
	}
	if createdAt := getString(payload, payloadCreatedAt); createdAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			meta.CreatedAt = ts
		}
	}
	if v, ok := payload[payloadPageNumber]; ok {
		n := int(v.GetIntegerValue())
		meta.PageNumber = &n
	}
	if v, ok := payload[payloadChunkIndex]; ok {
		n := int(v.GetIntegerValue())
		meta.ChunkIndex = &n
	}
	id := getString(payload, payloadOriginalID)
	return id, meta
}

func getString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func getInt(payload map[string]*qdrant.Value, key string) int64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	return v.GetIntegerValue()
}
