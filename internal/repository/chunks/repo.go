// Package chunks implements the content index: the durable mapping from
// blob hash to chunk records with embeddings, plus nearest-neighbor lookup.
package chunks

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sift-systems/siftd/internal/db"
	"github.com/sift-systems/siftd/internal/domain"
)

// IndexName is the vector index over chunk record hashes.
var IndexName = domain.KeyPrefix + "chunks:idx"

// store is the consumer interface for the content index (ISP).
type store interface {
	db.HashStore
	db.VectorIndexer
	db.VectorSearcher
}

// Scored pairs a chunk record with its similarity score.
type Scored struct {
	Record domain.ChunkRecord
	Score  float64
}

// Repo owns chunk record storage. Records become visible atomically per
// blob: chunk hashes are written first and the blob metadata key last, and
// every read path keys off the metadata key, so concurrent readers observe
// either none or all of a blob's records.
type Repo struct {
	store     store
	dim       int
	blobCache *lru.Cache[string, domain.BlobMetadata] // best-effort existence cache
}

// New creates a content index repository. dim is the established embedding
// dimensionality D; every upsert is validated against it.
func New(s store, dim, blobCacheSize int) *Repo {
	if blobCacheSize <= 0 {
		blobCacheSize = 4096
	}
	cache, _ := lru.New[string, domain.BlobMetadata](blobCacheSize)
	return &Repo{store: s, dim: dim, blobCache: cache}
}

// HNSWConfig carries tunables for the vector index build.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// EnsureIndex creates the vector index if missing.
func (r *Repo) EnsureIndex(ctx context.Context, hnsw HNSWConfig) error {
	def := &db.IndexDefinition{
		Name:     IndexName,
		Prefixes: []string{domain.KeyPrefix + "chunk:"},
		Fields: []db.IndexField{
			{Name: fieldBlobSHA, Type: db.IndexFieldTag},
			{Name: fieldBranch, Type: db.IndexFieldTag},
			{Name: fieldLanguage, Type: db.IndexFieldTag},
			{Name: fieldPath, Type: db.IndexFieldTag},
			{
				Name:              fieldVector,
				Type:              db.IndexFieldVector,
				VectorDim:         r.dim,
				VectorM:           hnsw.M,
				VectorEFConstruct: hnsw.EFConstruct,
			},
		},
	}
	if err := r.store.EnsureIndex(ctx, def); err != nil {
		return fmt.Errorf("%w: ensure index: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Metadata returns the blob metadata, or domain.ErrBlobNotFound. The LRU
// cache short-circuits repeat lookups; a cache miss always falls through to
// the store, so staleness only ever costs extra work, never data loss.
func (r *Repo) Metadata(ctx context.Context, blobSHA string) (domain.BlobMetadata, error) {
	if meta, ok := r.blobCache.Get(blobSHA); ok {
		return meta, nil
	}

	fields, err := r.store.HGetAll(ctx, blobKey(blobSHA))
	if err != nil {
		return domain.BlobMetadata{}, fmt.Errorf("%w: get blob meta: %w", domain.ErrStorageUnavailable, err)
	}
	if len(fields) == 0 {
		return domain.BlobMetadata{}, domain.ErrBlobNotFound
	}

	meta := fieldsToMeta(fields)
	r.blobCache.Add(blobSHA, meta)
	return meta, nil
}

// GetByBlob returns all chunk records for a blob hash in chunk-id order,
// or domain.ErrBlobNotFound if the blob was never indexed.
func (r *Repo) GetByBlob(ctx context.Context, blobSHA string) ([]domain.ChunkRecord, error) {
	meta, err := r.Metadata(ctx, blobSHA)
	if err != nil {
		return nil, err
	}

	keys := make([]string, meta.ChunkCount)
	for i := range keys {
		keys[i] = chunkKey(blobSHA, i)
	}

	all, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: get chunks %s: %w", domain.ErrStorageUnavailable, blobSHA, err)
	}

	records := make([]domain.ChunkRecord, 0, len(all))
	for _, fields := range all {
		if len(fields) == 0 {
			continue
		}
		records = append(records, fieldsToRecord(fields))
	}
	return records, nil
}

// Upsert writes the full record batch for one blob. The batch must share a
// single blob hash and match the index's dimensionality D; a mismatch
// rejects the whole batch with domain.ErrDimensionMismatch and leaves the
// index untouched.
func (r *Repo) Upsert(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: empty record batch", domain.ErrInvalidParameter)
	}

	blobSHA := records[0].BlobSHA
	for i := range records {
		if records[i].BlobSHA != blobSHA {
			return fmt.Errorf("%w: batch spans multiple blobs", domain.ErrInvalidParameter)
		}
		if len(records[i].Embedding) != r.dim {
			return fmt.Errorf("%w: chunk %s has dim %d, index has %d",
				domain.ErrDimensionMismatch, records[i].ChunkID, len(records[i].Embedding), r.dim)
		}
	}

	prevCount := 0
	if meta, err := r.Metadata(ctx, blobSHA); err == nil {
		prevCount = meta.ChunkCount
	}

	items := make([]db.HashSetItem, len(records))
	for i := range records {
		items[i] = db.HashSetItem{
			Key:    chunkKey(blobSHA, i),
			Fields: recordToFields(&records[i]),
		}
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("%w: write chunks %s: %w", domain.ErrStorageUnavailable, blobSHA, err)
	}

	// Metadata last: this is the visibility barrier for the batch.
	meta := domain.BlobMetadata{
		BlobSHA:    blobSHA,
		Path:       records[0].Path,
		CommitSHA:  records[0].CommitSHA,
		Branch:     records[0].Branch,
		Language:   records[0].Language,
		ChunkCount: len(records),
	}
	if err := r.store.HSet(ctx, blobKey(blobSHA), metaToFields(&meta)); err != nil {
		return fmt.Errorf("%w: write blob meta %s: %w", domain.ErrStorageUnavailable, blobSHA, err)
	}
	r.blobCache.Add(blobSHA, meta)

	// A forced re-index can shrink the chunk count; drop orphaned tails.
	if prevCount > len(records) {
		stale := make([]string, 0, prevCount-len(records))
		for i := len(records); i < prevCount; i++ {
			stale = append(stale, chunkKey(blobSHA, i))
		}
		if err := r.store.Del(ctx, stale...); err != nil {
			return fmt.Errorf("%w: trim stale chunks %s: %w", domain.ErrStorageUnavailable, blobSHA, err)
		}
	}

	return nil
}

// Delete evicts a blob's records and metadata.
func (r *Repo) Delete(ctx context.Context, blobSHA string) error {
	meta, err := r.Metadata(ctx, blobSHA)
	if err != nil {
		return err
	}

	keys := make([]string, 0, meta.ChunkCount+1)
	// Metadata first so readers stop observing the blob before its chunks go.
	keys = append(keys, blobKey(blobSHA))
	for i := 0; i < meta.ChunkCount; i++ {
		keys = append(keys, chunkKey(blobSHA, i))
	}

	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("%w: delete blob %s: %w", domain.ErrStorageUnavailable, blobSHA, err)
	}
	r.blobCache.Remove(blobSHA)
	return nil
}

// Nearest returns up to topK chunk records ranked by cosine similarity,
// descending. Filters narrow the candidate set before ranking. An empty
// index yields an empty result, not an error.
func (r *Repo) Nearest(
	ctx context.Context, vector []float32, topK int, filters domain.QueryFilters,
) ([]Scored, error) {
	if len(vector) != r.dim {
		return nil, fmt.Errorf("%w: query vector has dim %d, index has %d",
			domain.ErrDimensionMismatch, len(vector), r.dim)
	}

	q := &db.KNNQuery{
		IndexName: IndexName,
		Vector:    vector,
		K:         topK,
		Filters:   filtersToTags(filters),
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: search knn: %w", domain.ErrStorageUnavailable, err)
	}
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	scored := make([]Scored, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		scored = append(scored, Scored{
			Record: fieldsToRecord(entry.Fields),
			Score:  entry.Score,
		})
	}
	return scored, nil
}
