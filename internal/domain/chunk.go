package domain

import "fmt"

// KeyPrefix namespaces every key siftd writes to the durable store.
const KeyPrefix = "siftd:"

// ChunkRecord is a single retrievable unit: a span of source text together
// with its embedding and provenance. Records are immutable once written;
// re-indexing a file under a new blob hash produces new records and leaves
// the old hash's records in place until explicit eviction.
type ChunkRecord struct {
	ChunkID   string
	BlobSHA   string
	Path      string
	CommitSHA string
	Branch    string
	Language  string
	Content   string
	Offset    int
	Embedding []float32
}

// NewChunkID derives the stable chunk identifier from blob hash and position.
func NewChunkID(blobSHA string, index int) string {
	return fmt.Sprintf("%s:%d", blobSHA, index)
}

// BlobMetadata is the provenance summary for an indexed blob, used by callers
// to decide whether to submit content for indexing at all.
type BlobMetadata struct {
	BlobSHA    string
	Path       string
	CommitSHA  string
	Branch     string
	Language   string
	ChunkCount int
}

// QueryResult is a ranked similarity hit. Score is cosine similarity mapped
// so that higher always means more relevant.
type QueryResult struct {
	ChunkID   string
	BlobSHA   string
	Path      string
	CommitSHA string
	Branch    string
	Language  string
	Content   string
	Score     float64
}

// QueryFilters narrows the nearest-neighbor candidate set by exact-match
// provenance metadata before ranking. Zero values mean "no filter".
type QueryFilters struct {
	Branch     string
	Language   string
	PathPrefix string
}

// IsEmpty reports whether no filter is set.
func (f QueryFilters) IsEmpty() bool {
	return f.Branch == "" && f.Language == "" && f.PathPrefix == ""
}
