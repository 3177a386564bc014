package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// DeterministicEngine is a hash-based, offline-usable stand-in for a real
// ColPali-family multi-vector inference backend. The real backend is an
// external collaborator per spec.md §1's non-goals; this engine exists so
// the rest of the pipeline (ingestion, vectorstore, search) has a
// concrete, always-available Engine to run against, generalizing the
// teacher's byte-3-gram deterministic text embedder from a single flat
// vector per input to a T×D late-interaction tensor per input.
//
// Determinism (spec.md §4.5: "given identical input bytes and device,
// embeddings must be bit-identical across runs") falls out of hashing:
// every row is derived from SHA-256 of (seed, device, precision, token
// bytes) with no time- or randomness-dependent input.
type DeterministicEngine struct {
	dim            int
	tokensPerImage int
	tokensPerText  int
	device         Device
	precision      Precision
	seed           uint64

	mu sync.Mutex // serializes embed_* calls into per-device batches, per spec.md §5
}

// NewDeterministicEngine constructs an engine producing dim-wide rows,
// attempting requestedDevice/requestedPrecision and demoting through
// FallbackOrder/the precision chain if asked to reinitialize (this
// reference engine never actually fails to initialize on any device, so
// demotion only ever happens via ReinitializeOn; a real backend would
// call that from its own failed-init path).
func NewDeterministicEngine(dim, tokensPerImage, tokensPerText int, requestedDevice Device, requestedPrecision Precision, seed uint64) *DeterministicEngine {
	if dim <= 0 {
		dim = 128
	}
	if tokensPerImage <= 0 {
		tokensPerImage = 32
	}
	if tokensPerText <= 0 {
		tokensPerText = 16
	}
	e := &DeterministicEngine{
		dim:            dim,
		tokensPerImage: tokensPerImage,
		tokensPerText:  tokensPerText,
		device:         requestedDevice,
		precision:      normalizePrecision(requestedPrecision),
		seed:           seed,
	}
	return e
}

func normalizePrecision(p Precision) Precision {
	chain, ok := precisionFallback[p]
	if !ok || len(chain) == 0 {
		return PrecisionFP32
	}
	return chain[0]
}

func (e *DeterministicEngine) Device() Device       { return e.device }
func (e *DeterministicEngine) Precision() Precision { return e.precision }

// ReinitializeOn demotes the engine's device along FallbackOrder starting
// after the device that just failed, logging the demotion, per spec.md
// §4.5's "falls back mps → cuda → cpu and logs the demotion". Returns
// false if every device in FallbackOrder has been exhausted.
func (e *DeterministicEngine) ReinitializeOn(failed Device) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := false
	for _, d := range FallbackOrder {
		if next {
			e.device = d
			log.Warn().Str("failed_device", string(failed)).Str("fallback_device", string(d)).Msg("embedding engine demoted device")
			return true
		}
		if d == failed {
			next = true
		}
	}
	return false
}

func (e *DeterministicEngine) EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Tensor, len(images))
	for start := 0; start < len(images); start += effectiveBatch(batchSize, len(images)) {
		end := start + effectiveBatch(batchSize, len(images))
		if end > len(images) {
			end = len(images)
		}
		for i := start; i < end; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			out[i] = e.embedTokens(images[i], e.tokensPerImage)
		}
	}
	return out, nil
}

func (e *DeterministicEngine) EmbedText(ctx context.Context, texts []string, batchSize int) ([]Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Tensor, len(texts))
	for start := 0; start < len(texts); start += effectiveBatch(batchSize, len(texts)) {
		end := start + effectiveBatch(batchSize, len(texts))
		if end > len(texts) {
			end = len(texts)
		}
		for i := start; i < end; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			// Empty strings still produce a single-token zero sequence,
			// never an error (spec.md §4.5).
			if texts[i] == "" {
				out[i] = Tensor{make([]float32, e.dim)}
				continue
			}
			out[i] = e.embedTokens([]byte(texts[i]), tokenCountForText(texts[i], e.tokensPerText))
		}
	}
	return out, nil
}

func (e *DeterministicEngine) EmbedQuery(ctx context.Context, text string) (Tensor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embedTokens([]byte(text), tokenCountForText(text, e.tokensPerText)), nil
}

func effectiveBatch(requested, total int) int {
	if requested <= 0 {
		return total
	}
	return requested
}

// tokenCountForText derives a token row count from word count, bounded to
// [1, maxTokens] so batching never changes a single item's own tensor
// shape (spec.md §4.5's "batching must not change output vs single-item
// calls" invariant holds by construction: each row only ever depends on
// its own input bytes, never on neighboring batch members).
func tokenCountForText(text string, maxTokens int) int {
	if strings.TrimSpace(text) == "" {
		return 1
	}
	n := len(strings.Fields(text))
	if n < 1 {
		n = 1
	}
	if n > maxTokens {
		n = maxTokens
	}
	return n
}

// embedTokens derives tokenCount rows of dim floats from input, each row
// a SHA-256-seeded hash expansion of (seed, device, precision, token
// index, input bytes), then L2-normalizes every row. Identical input
// bytes, seed, device and precision always produce identical output: the
// only non-literal input to the hash is the byte slice itself.
func (e *DeterministicEngine) embedTokens(input []byte, tokenCount int) Tensor {
	t := make(Tensor, tokenCount)
	for row := 0; row < tokenCount; row++ {
		t[row] = e.hashRow(input, row)
		l2Normalize(t[row])
	}
	return t
}

func (e *DeterministicEngine) hashRow(input []byte, row int) []float32 {
	v := make([]float32, e.dim)
	var counter uint32
	for filled := 0; filled < e.dim; {
		h := sha256.New()
		writeUint64(h, e.seed)
		h.Write([]byte(e.device))
		h.Write([]byte(e.precision))
		writeUint32(h, uint32(row))
		writeUint32(h, counter)
		h.Write(input)
		digest := h.Sum(nil)
		for i := 0; i+4 <= len(digest) && filled < e.dim; i += 4 {
			bits := binary.BigEndian.Uint32(digest[i : i+4])
			// Map to a signed float in roughly [-1, 1].
			v[filled] = float32(int32(bits)) / float32(1<<31)
			filled++
		}
		counter++
	}
	return v
}

func writeUint64(w interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeUint32(w interface{ Write([]byte) (int, error) }, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}
