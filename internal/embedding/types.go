// Package embedding implements the late-interaction multi-vector
// embedding contract from spec.md §4.5: embed_images, embed_text,
// embed_query, and maxsim, plus the device/precision fallback policy and
// determinism guarantee those operations must uphold.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Tensor is a T×D sequence of embedding rows: one row per token (or, for
// the query/text degenerate case, one row per logical unit). Row 0 is the
// representative vector (spec.md §3: "repr is seq[0] byte-for-byte").
type Tensor [][]float32

// Dim returns the tensor's row width, or 0 for an empty tensor.
func (t Tensor) Dim() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

// Repr returns the representative row at the given index (spec.md §9's
// REPRESENTATIVE_TOKEN_INDEX open question — default 0), or nil if the
// tensor has no rows or the index is out of range.
func (t Tensor) Repr(index int) []float32 {
	if index < 0 || index >= len(t) {
		return nil
	}
	return t[index]
}

// Device names a compute backend. Engines attempt Requested, then fall
// back through FallbackOrder, demoting and logging on each failed
// initialization attempt.
type Device string

const (
	DeviceMPS  Device = "mps"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// FallbackOrder is the device demotion sequence spec.md §4.5 mandates:
// "engine attempts configured device; on initialization failure, falls
// back mps → cuda → cpu".
var FallbackOrder = []Device{DeviceMPS, DeviceCUDA, DeviceCPU}

// Precision names a numeric representation for embedding computation.
type Precision string

const (
	PrecisionFP16 Precision = "fp16"
	PrecisionINT8 Precision = "int8"
	PrecisionFP32 Precision = "fp32"
)

// precisionFallback is the "apply if supported, else next-best" order
// spec.md §4.5 describes; fp32 is always supported so it terminates
// every chain.
var precisionFallback = map[Precision][]Precision{
	PrecisionFP16: {PrecisionFP16, PrecisionINT8, PrecisionFP32},
	PrecisionINT8: {PrecisionINT8, PrecisionFP32},
	PrecisionFP32: {PrecisionFP32},
}

// ErrEmptyBatch is returned by engines that reject a zero-length batch;
// the reference engines in this package never return it (spec.md §4.5:
// "Empty strings produce a single-token zero sequence, never rejected"),
// but the interface keeps it available for HTTP-backed implementations
// that round-trip through a remote service requiring a non-empty body.
var ErrEmptyBatch = errors.New("embedding: empty batch")

// Engine is the embedding contract spec.md §4.5 defines. Implementations
// must be safe for concurrent use; spec.md §5 requires concurrent
// embed_* calls to be serialized into per-device batches internally, not
// left to the caller.
type Engine interface {
	EmbedImages(ctx context.Context, images [][]byte, batchSize int) ([]Tensor, error)
	EmbedText(ctx context.Context, texts []string, batchSize int) ([]Tensor, error)
	EmbedQuery(ctx context.Context, text string) (Tensor, error)
	Device() Device
	Precision() Precision
}

// MaxSim computes Σ_i max_j (query[i]·doc[j]) over L2-normalized rows,
// per spec.md §4.5. Rows are assumed already L2-normalized by the engine
// that produced them (both reference engines in this package guarantee
// that); MaxSim does not re-normalize, matching the teacher's pattern of
// normalizing once at the producer rather than at every consumer.
func MaxSim(query, doc Tensor) (float64, error) {
	if len(query) == 0 || len(doc) == 0 {
		return 0, fmt.Errorf("embedding: maxsim requires non-empty query and doc tensors")
	}
	if query.Dim() != doc.Dim() {
		return 0, fmt.Errorf("embedding: maxsim dimension mismatch: query=%d doc=%d", query.Dim(), doc.Dim())
	}
	var total float64
	for _, qi := range query {
		var best float64 = negInf
		for _, dj := range doc {
			s := dot(qi, dj)
			if s > best {
				best = s
			}
		}
		total += best
	}
	if total < 0 {
		total = 0
	}
	return total, nil
}

const negInf = -1 << 62 // sentinel below any realistic cosine-range dot product

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
