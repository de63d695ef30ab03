package chi

import (
	"time"

	"github.com/sift-systems/siftd/internal/domain"
	lockuc "github.com/sift-systems/siftd/internal/usecase/locks"
)

// ErrorCode identifies the failure class in an error response body.
type ErrorCode string

const (
	CodeBadRequest           ErrorCode = "bad_request"
	CodeValidationFailed     ErrorCode = "validation_failed"
	CodeUnauthorized         ErrorCode = "unauthorized"
	CodeBlobNotFound         ErrorCode = "blob_not_found"
	CodeDimensionMismatch    ErrorCode = "dimension_mismatch"
	CodeEmbeddingUnavailable ErrorCode = "embedding_unavailable"
	CodeStorageUnavailable   ErrorCode = "storage_unavailable"
	CodeInternalError        ErrorCode = "internal_error"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// IndexRequest is the body of POST /api/v1/index.
type IndexRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	BlobSHA   string `json:"blob_sha"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Language  string `json:"language,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// ChunkSummary describes one indexed chunk without its embedding or body.
type ChunkSummary struct {
	ChunkID string `json:"chunk_id"`
	Offset  int    `json:"offset"`
}

// IndexResponse is the body returned by POST /api/v1/index.
type IndexResponse struct {
	BlobSHA    string         `json:"blob_sha"`
	Path       string         `json:"path"`
	ChunkCount int            `json:"chunk_count"`
	Chunks     []ChunkSummary `json:"chunks"`
}

// SearchFilters narrows search candidates by provenance metadata.
type SearchFilters struct {
	Branch     string `json:"branch,omitempty"`
	Language   string `json:"language,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
}

// SearchRequest is the body of POST /api/v1/search. TopK nil means the
// configured default; an explicit non-positive value is rejected.
type SearchRequest struct {
	Query   string         `json:"query"`
	TopK    *int           `json:"top_k,omitempty"`
	Filters *SearchFilters `json:"filters,omitempty"`
}

// SearchResultItem is a single ranked hit.
type SearchResultItem struct {
	ChunkID   string  `json:"chunk_id"`
	BlobSHA   string  `json:"blob_sha"`
	Path      string  `json:"path"`
	CommitSHA string  `json:"commit_sha,omitempty"`
	Branch    string  `json:"branch,omitempty"`
	Language  string  `json:"language,omitempty"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// SearchResponse is the body returned by POST /api/v1/search.
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
	Total   int                `json:"total"`
}

// BlobResponse is the metadata body of GET /api/v1/blobs/{blob_sha}.
type BlobResponse struct {
	BlobSHA    string `json:"blob_sha"`
	Path       string `json:"path"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Language   string `json:"language,omitempty"`
	ChunkCount int    `json:"chunk_count"`
}

// LockRequest is the body of POST /api/v1/locks/{acquire,release}.
type LockRequest struct {
	Resource string `json:"resource"`
	Owner    string `json:"owner"`
}

// AcquireResponse reports a lock attempt. Contention is a normal outcome,
// not an error status.
type AcquireResponse struct {
	Acquired bool `json:"acquired"`
}

// ReleaseResponse reports a release attempt.
type ReleaseResponse struct {
	Released bool `json:"released"`
}

// LockInfo describes one held lock in the list response.
type LockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ListLocksResponse maps resource to its holder.
type ListLocksResponse struct {
	Locks map[string]LockInfo `json:"locks"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func filtersFromDTO(f *SearchFilters) domain.QueryFilters {
	if f == nil {
		return domain.QueryFilters{}
	}
	return domain.QueryFilters{
		Branch:     f.Branch,
		Language:   f.Language,
		PathPrefix: f.PathPrefix,
	}
}

func resultToDTO(r *domain.QueryResult) SearchResultItem {
	return SearchResultItem{
		ChunkID:   r.ChunkID,
		BlobSHA:   r.BlobSHA,
		Path:      r.Path,
		CommitSHA: r.CommitSHA,
		Branch:    r.Branch,
		Language:  r.Language,
		Content:   r.Content,
		Score:     r.Score,
	}
}

func metaToDTO(m domain.BlobMetadata) BlobResponse {
	return BlobResponse{
		BlobSHA:    m.BlobSHA,
		Path:       m.Path,
		CommitSHA:  m.CommitSHA,
		Branch:     m.Branch,
		Language:   m.Language,
		ChunkCount: m.ChunkCount,
	}
}

func locksToDTO(locks []lockuc.Lock) ListLocksResponse {
	out := make(map[string]LockInfo, len(locks))
	for _, l := range locks {
		out[l.Resource] = LockInfo{Owner: l.Owner, AcquiredAt: l.AcquiredAt}
	}
	return ListLocksResponse{Locks: out}
}
