package siftd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sift-systems/siftd/internal/domain"
)

// Embedder vectorizes batches of texts. The i-th output vector must
// correspond to the i-th input text.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

type clientConfig struct {
	driver   string
	addrs    []string
	password string

	embedder   Embedder
	apiKey     string
	baseURL    string
	model      string
	dimensions int

	maxChunkSize int
	overlap      int

	hnswM           int
	hnswEFConstruct int
	maxTopK         int
	blobCacheSize   int

	batchSize    int
	maxRetries   int
	initialDelay time.Duration
	timeout      time.Duration

	logger *zap.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithRedis connects the client to a Redis-compatible store with FT.SEARCH
// support.
func WithRedis(addrs []string, password string) Option {
	return func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = addrs
		c.password = password
	}
}

// WithMemoryStore keeps all records in process memory. Intended for tests
// and single-process tooling; nothing survives a restart.
func WithMemoryStore() Option {
	return func(c *clientConfig) {
		c.driver = "memory"
	}
}

// WithEmbedder plugs in a custom embedding function instead of the OpenAI
// provider. Its vectors must have the configured dimensionality.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithOpenAI configures the bundled OpenAI-compatible embedding provider.
func WithOpenAI(apiKey, model string, dimensions int) Option {
	return func(c *clientConfig) {
		c.apiKey = apiKey
		c.model = model
		c.dimensions = dimensions
	}
}

// WithBaseURL points the bundled provider at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithDimensions sets the embedding dimensionality D the index is built for.
func WithDimensions(d int) Option {
	return func(c *clientConfig) {
		c.dimensions = d
	}
}

// WithChunking sets the splitter parameters, in runes.
func WithChunking(maxChunkSize, overlap int) Option {
	return func(c *clientConfig) {
		c.maxChunkSize = maxChunkSize
		c.overlap = overlap
	}
}

// WithHNSW tunes the vector index build parameters.
func WithHNSW(m, efConstruct int) Option {
	return func(c *clientConfig) {
		c.hnswM = m
		c.hnswEFConstruct = efConstruct
	}
}

// WithMaxTopK caps the result count a single query may request.
func WithMaxTopK(k int) Option {
	return func(c *clientConfig) {
		c.maxTopK = k
	}
}

// WithRetry tunes the embedding gateway's batching and backoff.
func WithRetry(batchSize, maxRetries int, initialDelay, timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.batchSize = batchSize
		c.maxRetries = maxRetries
		c.initialDelay = initialDelay
		c.timeout = timeout
	}
}

// WithLogger sets the client logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}
