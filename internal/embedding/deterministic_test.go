package embedding

import (
	"context"
	"testing"
)

func TestDeterministicEngine_Determinism(t *testing.T) {
	e1 := NewDeterministicEngine(32, 4, 4, DeviceCPU, PrecisionFP32, 7)
	e2 := NewDeterministicEngine(32, 4, 4, DeviceCPU, PrecisionFP32, 7)

	t1, err := e1.EmbedQuery(context.Background(), "quarterly revenue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t2, err := e2.EmbedQuery(context.Background(), "quarterly revenue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(t1) != len(t2) {
		t.Fatalf("tensor shapes differ: %d vs %d rows", len(t1), len(t2))
	}
	for i := range t1 {
		for j := range t1[i] {
			if t1[i][j] != t2[i][j] {
				t.Fatalf("row %d col %d differs: %v vs %v", i, j, t1[i][j], t2[i][j])
			}
		}
	}
}

func TestDeterministicEngine_EmptyStringProducesSingleTokenZeroSequence(t *testing.T) {
	e := NewDeterministicEngine(16, 4, 4, DeviceCPU, PrecisionFP32, 1)
	tensors, err := e.EmbedText(context.Background(), []string{""}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tensors) != 1 {
		t.Fatalf("expected 1 tensor, got %d", len(tensors))
	}
	if len(tensors[0]) != 1 {
		t.Fatalf("expected single-token sequence for empty string, got %d rows", len(tensors[0]))
	}
}

func TestDeterministicEngine_BatchingMatchesSingleItemCalls(t *testing.T) {
	e := NewDeterministicEngine(16, 4, 4, DeviceCPU, PrecisionFP32, 3)
	texts := []string{"alpha beta", "gamma delta epsilon", "zeta"}

	batched, err := e.EmbedText(context.Background(), texts, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, text := range texts {
		single, err := e.EmbedText(context.Background(), []string{text}, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(single[0]) != len(batched[i]) {
			t.Fatalf("item %d: shape mismatch between batched and single-item call", i)
		}
		for row := range single[0] {
			for col := range single[0][row] {
				if single[0][row][col] != batched[i][row][col] {
					t.Fatalf("item %d row %d col %d: batched=%v single=%v", i, row, col, batched[i][row][col], single[0][row][col])
				}
			}
		}
	}
}

func TestDeterministicEngine_ReinitializeOnFallsBackThroughDeviceOrder(t *testing.T) {
	e := NewDeterministicEngine(8, 2, 2, DeviceMPS, PrecisionFP32, 1)
	if ok := e.ReinitializeOn(DeviceMPS); !ok || e.Device() != DeviceCUDA {
		t.Fatalf("expected fallback to cuda, got device=%v ok=%v", e.Device(), ok)
	}
	if ok := e.ReinitializeOn(DeviceCUDA); !ok || e.Device() != DeviceCPU {
		t.Fatalf("expected fallback to cpu, got device=%v ok=%v", e.Device(), ok)
	}
	if ok := e.ReinitializeOn(DeviceCPU); ok {
		t.Fatalf("expected no further fallback past cpu")
	}
}

func TestMaxSim(t *testing.T) {
	query := Tensor{{1, 0}, {0, 1}}
	doc := Tensor{{1, 0}, {0.6, 0.8}}
	score, err := MaxSim(query, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// row0 best match is doc row0 (dot=1), row1 best match is doc row1 (dot=0.8)
	want := 1.0 + 0.8
	if diff := score - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("maxsim = %v, want %v", score, want)
	}
}

func TestMaxSim_DimensionMismatch(t *testing.T) {
	_, err := MaxSim(Tensor{{1, 0}}, Tensor{{1, 0, 0}})
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}
