package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sift-systems/siftd/internal/domain"
	"github.com/sift-systems/siftd/internal/metrics"
)

// LRUEmbedder keeps recent embeddings in process memory, in front of the
// store-backed cache. Repeated queries skip both the store round-trip and
// the provider call.
type LRUEmbedder struct {
	inner embedder
	model string
	cache *lru.Cache[string, []float32]
}

// NewLRU creates an in-process LRU caching decorator.
func NewLRU(inner embedder, model string, size int) *LRUEmbedder {
	if size <= 0 {
		size = 1000
	}
	cache, _ := lru.New[string, []float32](size)
	return &LRUEmbedder{inner: inner, model: model, cache: cache}
}

// Embed returns an in-memory cached embedding or delegates to the inner embedder.
func (l *LRUEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := l.key(text)

	if vec, ok := l.cache.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("lru", "hit").Inc()
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("lru", "miss").Inc()

	result, err := l.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	l.cache.Add(key, result.Embedding)
	return result, nil
}

// BatchEmbed serves what it can from memory and delegates the misses.
func (l *LRUEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	embeddings := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := l.cache.Get(l.key(text)); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("lru", "hit").Inc()
			embeddings[i] = vec
			continue
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("lru", "miss").Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	result := domain.BatchEmbeddingResult{Embeddings: embeddings}
	if len(missTexts) == 0 {
		return result, nil
	}

	missRes, err := l.inner.BatchEmbed(ctx, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed batch: %w", err)
	}

	for j, i := range missIdx {
		embeddings[i] = missRes.Embeddings[j]
		l.cache.Add(l.key(texts[i]), missRes.Embeddings[j])
	}
	result.PromptTokens = missRes.PromptTokens
	result.TotalTokens = missRes.TotalTokens

	return result, nil
}

func (l *LRUEmbedder) key(text string) string {
	h := sha256.Sum256([]byte(l.model + "\x00" + text))
	return hex.EncodeToString(h[:])
}
