package search

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/embedding"
)

// QueryCache caches embed_query results keyed by query text + model
// version + precision (spec.md §4.8), so a repeated query skips
// embed_query. Get/Set are safe for concurrent use; stale reads are
// acceptable per spec.md §5.
type QueryCache interface {
	Get(ctx context.Context, key string) (embedding.Tensor, bool)
	Set(ctx context.Context, key string, value embedding.Tensor)
}

// CacheKey formats the cache key spec.md §4.8 specifies.
func CacheKey(query, modelVersion string, precision embedding.Precision) string {
	return fmt.Sprintf("%s\x00%s\x00%s", query, modelVersion, precision)
}

// lruEntry is one node's payload in the doubly linked list.
type lruEntry struct {
	key   string
	value embedding.Tensor
}

// LRUCache is a bounded in-memory query-embedding cache, the default
// QueryCache when QUERY_CACHE_REDIS_ADDR is unset. Grounded on the
// teacher's single-mutex map cache (internal/sefii/engine.go's
// queryEmbeddingCache), generalized from an unbounded map to a bounded
// LRU via container/list since spec.md §4.8 requires "bounded size."
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

// NewLRUCache builds a cache holding at most capacity entries (capacity
// <= 0 defaults to 256).
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &LRUCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *LRUCache) Get(ctx context.Context, key string) (embedding.Tensor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *LRUCache) Set(ctx context.Context, key string, value embedding.Tensor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}

// RedisQueryCache is an optional shared cache backing QueryCache,
// generalized from the teacher's RedisSkillsCache
// (internal/skills/redis_cache.go) from string-prompt values to
// tensor-shaped query embeddings serialized as JSON.
type RedisQueryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisQueryCache connects to addr and pings it once; returns an error
// if the server is unreachable so callers can fall back to an LRUCache.
func NewRedisQueryCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisQueryCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("search: redis query cache ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisQueryCache{client: client, ttl: ttl}, nil
}

func (c *RedisQueryCache) Get(ctx context.Context, key string) (embedding.Tensor, bool) {
	val, err := c.client.Get(ctx, redisCacheKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("search: redis query cache get failed")
		}
		return nil, false
	}
	var tensor embedding.Tensor
	if err := json.Unmarshal(val, &tensor); err != nil {
		log.Debug().Err(err).Msg("search: redis query cache unmarshal failed")
		return nil, false
	}
	return tensor, true
}

func (c *RedisQueryCache) Set(ctx context.Context, key string, value embedding.Tensor) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisCacheKey(key), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("search: redis query cache set failed")
	}
}

func (c *RedisQueryCache) Close() error { return c.client.Close() }

func redisCacheKey(key string) string { return "docusearch:query_embed:" + key }
