package retrieval

import (
	"context"

	"github.com/sift-systems/siftd/internal/chunker"
	"github.com/sift-systems/siftd/internal/domain"
	"github.com/sift-systems/siftd/internal/repository/chunks"
)

// Index defines the content-index contract the engine depends on.
type Index interface {
	GetByBlob(ctx context.Context, blobSHA string) ([]domain.ChunkRecord, error)
	Metadata(ctx context.Context, blobSHA string) (domain.BlobMetadata, error)
	Upsert(ctx context.Context, records []domain.ChunkRecord) error
	Delete(ctx context.Context, blobSHA string) error
	Nearest(ctx context.Context, vector []float32, topK int, filters domain.QueryFilters) ([]chunks.Scored, error)
}

// Embedder vectorizes batches of chunk texts.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// Splitter divides file content into chunks.
type Splitter interface {
	Split(content string) []chunker.Chunk
}
