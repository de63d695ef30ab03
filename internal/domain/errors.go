package domain

import "errors"

var (
	// ErrInvalidParameter signals malformed caller input (rejected synchronously, never retried).
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrBlobNotFound signals that no records exist for a blob hash.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrEmbeddingUnavailable signals that the embedding provider failed after retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrDimensionMismatch signals an embedding whose dimensionality does not match the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrStorageUnavailable signals a durable-store failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
