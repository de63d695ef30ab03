// Package retrieval implements the indexing and query engine: splitting file
// content into chunks, embedding them, and ranking stored chunks against
// query text.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/sift-systems/siftd/internal/domain"
	"github.com/sift-systems/siftd/internal/metrics"
)

// IndexFileInput carries one file's content and provenance for indexing.
type IndexFileInput struct {
	Path      string
	Content   string
	BlobSHA   string
	CommitSHA string
	Branch    string
	Language  string

	// Force re-embeds and rewrites even when BlobSHA is already indexed.
	Force bool
}

// Service is the retrieval engine.
type Service struct {
	index    Index
	embedder Embedder
	splitter Splitter
	maxTopK  int

	// flights serializes indexing per blob hash: concurrent IndexFile calls
	// for the same BlobSHA coalesce into one split/embed/upsert pass.
	flights singleflight.Group
}

// New creates a retrieval engine.
func New(index Index, embedder Embedder, splitter Splitter, maxTopK int) *Service {
	if maxTopK <= 0 {
		maxTopK = 100
	}
	return &Service{
		index:    index,
		embedder: embedder,
		splitter: splitter,
		maxTopK:  maxTopK,
	}
}

// IndexFile splits, embeds and stores one file's content, keyed by its blob
// hash. The operation is idempotent on BlobSHA: if the hash is already
// indexed and Force is unset, the stored records are returned without any
// embedding calls. Embedding or storage failures abort the whole call; no
// partially indexed blob is ever observable.
func (s *Service) IndexFile(ctx context.Context, in IndexFileInput) ([]domain.ChunkRecord, error) {
	if in.BlobSHA == "" {
		return nil, fmt.Errorf("%w: blob_sha is required", domain.ErrInvalidParameter)
	}
	if in.Content == "" {
		return nil, fmt.Errorf("%w: content is empty", domain.ErrInvalidParameter)
	}

	v, err, _ := s.flights.Do(in.BlobSHA, func() (any, error) {
		return s.indexFile(ctx, in)
	})
	if err != nil {
		metrics.IndexFilesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return v.([]domain.ChunkRecord), nil
}

func (s *Service) indexFile(ctx context.Context, in IndexFileInput) ([]domain.ChunkRecord, error) {
	if !in.Force {
		existing, err := s.index.GetByBlob(ctx, in.BlobSHA)
		switch {
		case err == nil:
			metrics.IndexFilesTotal.WithLabelValues("unchanged").Inc()
			return existing, nil
		case !errors.Is(err, domain.ErrBlobNotFound):
			return nil, fmt.Errorf("check existing blob: %w", err)
		}
	}

	parts := s.splitter.Split(in.Content)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: content produced no chunks", domain.ErrInvalidParameter)
	}

	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}

	batch, err := s.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(batch.Embeddings) != len(parts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks",
			domain.ErrEmbeddingUnavailable, len(batch.Embeddings), len(parts))
	}

	records := make([]domain.ChunkRecord, len(parts))
	for i, p := range parts {
		records[i] = domain.ChunkRecord{
			ChunkID:   domain.NewChunkID(in.BlobSHA, i),
			BlobSHA:   in.BlobSHA,
			Path:      in.Path,
			CommitSHA: in.CommitSHA,
			Branch:    in.Branch,
			Language:  in.Language,
			Content:   p.Text,
			Offset:    p.Offset,
			Embedding: batch.Embeddings[i],
		}
	}

	if err := s.index.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", in.BlobSHA, err)
	}

	metrics.IndexFilesTotal.WithLabelValues("indexed").Inc()
	metrics.IndexChunksWritten.Add(float64(len(records)))
	return records, nil
}

// Query embeds text and returns up to topK stored chunks ranked by cosine
// similarity, descending. Ranking order comes from the content index and is
// passed through unchanged, so equal scores keep the index's documented
// tie-break.
func (s *Service) Query(
	ctx context.Context, text string, topK int, filters domain.QueryFilters,
) ([]domain.QueryResult, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", domain.ErrInvalidParameter)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidParameter, topK)
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	batch, err := s.embedder.BatchEmbed(ctx, []string{text})
	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(batch.Embeddings) != 1 {
		metrics.QueryRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: got %d vectors for query", domain.ErrEmbeddingUnavailable, len(batch.Embeddings))
	}

	scored, err := s.index.Nearest(ctx, batch.Embeddings[0], topK, filters)
	if err != nil {
		metrics.QueryRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("nearest: %w", err)
	}

	results := make([]domain.QueryResult, len(scored))
	for i, hit := range scored {
		results[i] = domain.QueryResult{
			ChunkID:   hit.Record.ChunkID,
			BlobSHA:   hit.Record.BlobSHA,
			Path:      hit.Record.Path,
			CommitSHA: hit.Record.CommitSHA,
			Branch:    hit.Record.Branch,
			Language:  hit.Record.Language,
			Content:   hit.Record.Content,
			Score:     hit.Score,
		}
	}

	metrics.QueryRequestsTotal.WithLabelValues("ok").Inc()
	return results, nil
}

// CheckBlobMetadata reports whether a blob hash is indexed and, if so, its
// provenance summary. Callers use it to skip transferring unchanged file
// bodies. Returns domain.ErrBlobNotFound for unknown hashes.
func (s *Service) CheckBlobMetadata(ctx context.Context, blobSHA string) (domain.BlobMetadata, error) {
	if blobSHA == "" {
		return domain.BlobMetadata{}, fmt.Errorf("%w: blob_sha is required", domain.ErrInvalidParameter)
	}
	meta, err := s.index.Metadata(ctx, blobSHA)
	if err != nil {
		return domain.BlobMetadata{}, fmt.Errorf("blob metadata %s: %w", blobSHA, err)
	}
	return meta, nil
}

// Evict removes a blob's records and metadata from the content index.
func (s *Service) Evict(ctx context.Context, blobSHA string) error {
	if blobSHA == "" {
		return fmt.Errorf("%w: blob_sha is required", domain.ErrInvalidParameter)
	}
	if err := s.index.Delete(ctx, blobSHA); err != nil {
		return fmt.Errorf("evict %s: %w", blobSHA, err)
	}
	return nil
}
