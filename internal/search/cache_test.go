package search

import (
	"context"
	"testing"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
)

func TestLRUCache_EvictsOldestOverCapacity(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", embedding.Tensor{{1}})
	c.Set(ctx, "b", embedding.Tensor{{2}})
	c.Set(ctx, "c", embedding.Tensor{{3}})

	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatalf("expected 'a' evicted once capacity exceeded")
	}
	if _, ok := c.Get(ctx, "b"); !ok {
		t.Fatalf("expected 'b' to still be cached")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Fatalf("expected 'c' to still be cached")
	}
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", embedding.Tensor{{1}})
	c.Set(ctx, "b", embedding.Tensor{{2}})
	c.Get(ctx, "a") // touch a, making b the least-recently-used
	c.Set(ctx, "c", embedding.Tensor{{3}})

	if _, ok := c.Get(ctx, "b"); ok {
		t.Fatalf("expected 'b' evicted as least recently used")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatalf("expected 'a' to survive since it was just touched")
	}
}

func TestCacheKey_DistinguishesPrecisionAndModelVersion(t *testing.T) {
	k1 := CacheKey("query", "v1", embedding.PrecisionFP32)
	k2 := CacheKey("query", "v2", embedding.PrecisionFP32)
	k3 := CacheKey("query", "v1", embedding.PrecisionFP16)
	if k1 == k2 || k1 == k3 || k2 == k3 {
		t.Fatalf("expected distinct cache keys for distinct model version/precision")
	}
}
