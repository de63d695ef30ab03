// Package siftd is the embedded client for the siftd retrieval service.
// It wires the store, splitter, embedder and usecase services into a single
// in-process handle, for tools that want indexing and search without running
// the HTTP server.
package siftd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sift-systems/siftd/internal/chunker"
	"github.com/sift-systems/siftd/internal/db"
	dbMemory "github.com/sift-systems/siftd/internal/db/memory"
	dbRedis "github.com/sift-systems/siftd/internal/db/redis"
	"github.com/sift-systems/siftd/internal/domain"
	"github.com/sift-systems/siftd/internal/embedding"
	"github.com/sift-systems/siftd/internal/repository/chunks"
	lockuc "github.com/sift-systems/siftd/internal/usecase/locks"
	retrievaluc "github.com/sift-systems/siftd/internal/usecase/retrieval"
)

// ErrNoEmbedder is returned by New when neither WithEmbedder nor WithOpenAI
// was supplied. Indexing and querying both need vectors, so there is no
// useful fallback.
var ErrNoEmbedder = errors.New("no embedder configured")

// Re-exported so callers don't import internal packages.
type (
	ChunkRecord  = domain.ChunkRecord
	BlobMetadata = domain.BlobMetadata
	QueryResult  = domain.QueryResult
	QueryFilters = domain.QueryFilters
	Lock         = lockuc.Lock
)

// IndexFileInput describes one file to index.
type IndexFileInput = retrievaluc.IndexFileInput

// Client is an embedded siftd instance.
type Client struct {
	store     db.Store
	retrieval *retrievaluc.Service
	locks     *lockuc.Coordinator
}

// New builds a client from options. It waits for the store to become
// reachable and ensures the vector index exists before returning.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		driver:          "memory",
		model:           "text-embedding-3-small",
		dimensions:      1536,
		maxChunkSize:    1500,
		overlap:         200,
		hnswM:           32,
		hnswEFConstruct: 400,
		maxTopK:         100,
		blobCacheSize:   4096,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if err := store.WaitForReady(ctx, 30*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("store not ready: %w", err)
	}

	c, err := wireClient(ctx, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "redis":
		return dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
	case "memory":
		return dbMemory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.driver)
	}
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig) (*Client, error) {
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	splitter, err := chunker.New(cfg.maxChunkSize, cfg.overlap)
	if err != nil {
		return nil, fmt.Errorf("chunking config: %w", err)
	}

	index := chunks.New(store, cfg.dimensions, cfg.blobCacheSize)
	if err := index.EnsureIndex(ctx, chunks.HNSWConfig{
		M:           cfg.hnswM,
		EFConstruct: cfg.hnswEFConstruct,
	}); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	return &Client{
		store:     store,
		retrieval: retrievaluc.New(index, embedder, splitter, cfg.maxTopK),
		locks:     lockuc.New(),
	}, nil
}

func buildEmbedder(cfg *clientConfig) (retrievaluc.Embedder, error) {
	if cfg.embedder != nil {
		return cfg.embedder, nil
	}
	if cfg.apiKey == "" {
		return nil, ErrNoEmbedder
	}

	provider := embedding.NewProvider(&embedding.ProviderConfig{
		APIKey:     cfg.apiKey,
		BaseURL:    cfg.baseURL,
		Model:      cfg.model,
		Dimensions: cfg.dimensions,
		Provider:   "openai",
		Timeout:    cfg.timeout,
		Logger:     cfg.logger,
	})
	return embedding.NewGateway(provider, embedding.GatewayConfig{
		BatchSize:    cfg.batchSize,
		MaxRetries:   cfg.maxRetries,
		InitialDelay: cfg.initialDelay,
		Timeout:      cfg.timeout,
		Provider:     "openai",
		Model:        cfg.model,
		Logger:       cfg.logger,
	}), nil
}

// IndexFile splits, embeds and stores one file's content. Idempotent on
// BlobSHA unless Force is set.
func (c *Client) IndexFile(ctx context.Context, in IndexFileInput) ([]ChunkRecord, error) {
	return c.retrieval.IndexFile(ctx, in)
}

// Query returns up to topK chunks ranked by similarity, descending.
func (c *Client) Query(ctx context.Context, text string, topK int, filters QueryFilters) ([]QueryResult, error) {
	return c.retrieval.Query(ctx, text, topK, filters)
}

// CheckBlobMetadata reports whether a blob hash is indexed and with what shape.
func (c *Client) CheckBlobMetadata(ctx context.Context, blobSHA string) (BlobMetadata, error) {
	return c.retrieval.CheckBlobMetadata(ctx, blobSHA)
}

// Evict removes a blob's metadata and chunks from the index.
func (c *Client) Evict(ctx context.Context, blobSHA string) error {
	return c.retrieval.Evict(ctx, blobSHA)
}

// AcquireLock attempts to take an advisory lock. False means the resource is
// already held, including by the same owner.
func (c *Client) AcquireLock(resource, owner string) bool {
	return c.locks.Acquire(resource, owner)
}

// ReleaseLock frees a lock if owner holds it.
func (c *Client) ReleaseLock(resource, owner string) bool {
	return c.locks.Release(resource, owner)
}

// ListLocks snapshots the currently held locks.
func (c *Client) ListLocks() []Lock {
	return c.locks.List()
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the underlying store connection.
func (c *Client) Close() {
	c.store.Close()
}
