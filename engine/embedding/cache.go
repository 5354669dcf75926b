package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// CacheConfig configures the caching provider.
type CacheConfig struct {
	MaxEntries int           // default: 2048
	TTL        time.Duration // default: 1h
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Metrics receives cache and provider observations. The engine's Prometheus
// exporter satisfies it.
type Metrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordEmbedLatency(operation string, latency time.Duration)
}

const cacheType = "embedding"

// CachingProvider wraps a Provider with an exact-match LRU keyed by a SHA256
// of the input text. Identical queries within the TTL never hit the external
// provider twice.
type CachingProvider struct {
	inner   Provider
	cache   *lruCache[string, []float32]
	metrics Metrics

	statsMu sync.Mutex
	hits    int64
	misses  int64
}

// NewCachingProvider wraps the given provider with an LRU cache.
func NewCachingProvider(inner Provider, cfg CacheConfig) *CachingProvider {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 2048
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &CachingProvider{
		inner: inner,
		cache: newLRUCache[string, []float32](cfg.MaxEntries, cfg.TTL),
	}
}

func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashKey(text)
	if vec, ok := p.cache.Get(key); ok {
		p.recordHit()
		return vec, nil
	}
	p.recordMiss()

	start := time.Now()
	vec, err := p.inner.Embed(ctx, text)
	p.recordLatency("embed", time.Since(start))
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, vec)
	return vec, nil
}

func (p *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// Partition into cached and missing, fetch the misses in one batch.
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := p.cache.Get(hashKey(text)); ok {
			p.recordHit()
			vectors[i] = vec
			continue
		}
		p.recordMiss()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	start := time.Now()
	fetched, err := p.inner.EmbedBatch(ctx, missing)
	p.recordLatency("embed_batch", time.Since(start))
	if err != nil {
		return nil, err
	}
	for j, vec := range fetched {
		i := missingIdx[j]
		vectors[i] = vec
		p.cache.Set(hashKey(texts[i]), vec)
	}
	return vectors, nil
}

func (p *CachingProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Stats returns hit/miss counters and the current cache size.
func (p *CachingProvider) Stats() CacheStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return CacheStats{Hits: p.hits, Misses: p.misses, Size: p.cache.Size()}
}

// SetMetrics attaches a metrics sink. Call before serving traffic.
func (p *CachingProvider) SetMetrics(m Metrics) {
	p.metrics = m
}

func (p *CachingProvider) recordHit() {
	p.statsMu.Lock()
	p.hits++
	p.statsMu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordCacheHit(cacheType)
	}
}

func (p *CachingProvider) recordMiss() {
	p.statsMu.Lock()
	p.misses++
	p.statsMu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordCacheMiss(cacheType)
	}
}

func (p *CachingProvider) recordLatency(operation string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordEmbedLatency(operation, d)
	}
}

// hashKey generates a stable cache key for text.
func hashKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return "embed:" + hex.EncodeToString(hash[:8])
}

var _ Provider = (*CachingProvider)(nil)
