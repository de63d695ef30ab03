package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sift-systems/siftd/internal/domain"
	"github.com/sift-systems/siftd/internal/metrics"
)

// embedder is the inner contract the gateway decorates.
type embedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

// Gateway bounds external-call overhead by batching, and survives transient
// provider failures with exponential backoff. A request that exhausts its
// retry budget surfaces domain.ErrEmbeddingUnavailable; internal retries are
// invisible to the caller.
type Gateway struct {
	inner        embedder
	batchSize    int
	maxRetries   int
	initialDelay time.Duration
	timeout      time.Duration
	provider     string
	model        string
	logger       *zap.Logger
}

// GatewayConfig holds batching and retry settings.
type GatewayConfig struct {
	BatchSize    int
	MaxRetries   int
	InitialDelay time.Duration
	Timeout      time.Duration
	Provider     string
	Model        string
	Logger       *zap.Logger
}

// NewGateway wraps inner with batching and retry.
func NewGateway(inner embedder, cfg GatewayConfig) *Gateway {
	g := &Gateway{
		inner:        inner,
		batchSize:    cfg.BatchSize,
		maxRetries:   cfg.MaxRetries,
		initialDelay: cfg.InitialDelay,
		timeout:      cfg.Timeout,
		provider:     cfg.Provider,
		model:        cfg.Model,
		logger:       cfg.Logger,
	}
	if g.batchSize <= 0 {
		g.batchSize = 32
	}
	if g.maxRetries <= 0 {
		g.maxRetries = 4
	}
	if g.initialDelay <= 0 {
		g.initialDelay = 250 * time.Millisecond
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Embed vectorizes a single text with retry.
func (g *Gateway) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := g.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed splits texts into provider-sized batches and embeds them
// concurrently, preserving input order. Any batch failing after retries
// fails the whole call: a partially embedded set would not be comparable
// in one vector space.
func (g *Gateway) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	type batchOut struct {
		start int
		res   domain.BatchEmbeddingResult
	}

	nBatches := (len(texts) + g.batchSize - 1) / g.batchSize
	outs := make([]batchOut, nBatches)

	eg, egCtx := errgroup.WithContext(ctx)
	for b := 0; b < nBatches; b++ {
		b := b
		start := b * g.batchSize
		end := min(start+g.batchSize, len(texts))
		eg.Go(func() error {
			res, err := g.withRetry(egCtx, texts[start:end])
			if err != nil {
				return err
			}
			outs[b] = batchOut{start: start, res: res}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	result := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for _, out := range outs {
		copy(result.Embeddings[out.start:], out.res.Embeddings)
		result.PromptTokens += out.res.PromptTokens
		result.TotalTokens += out.res.TotalTokens
	}
	return result, nil
}

// withRetry embeds one batch with exponential backoff on transient failures.
func (g *Gateway) withRetry(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	delay := g.initialDelay
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}

		res, err := g.inner.BatchEmbed(ctx, texts)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}

		if attempt < g.maxRetries {
			metrics.EmbeddingRetriesTotal.WithLabelValues(g.provider, g.model).Inc()
			g.logger.Warn("embedding request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(delay):
				delay *= 2
			}
		}
	}

	return domain.BatchEmbeddingResult{}, fmt.Errorf(
		"%w: max retries exceeded: %w", domain.ErrEmbeddingUnavailable, lastErr)
}
