// Package chi exposes the service over HTTP with hand-routed chi handlers.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sift-systems/siftd/internal/domain"
	healthuc "github.com/sift-systems/siftd/internal/usecase/health"
	lockuc "github.com/sift-systems/siftd/internal/usecase/locks"
	retrievaluc "github.com/sift-systems/siftd/internal/usecase/retrieval"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the usecase services to HTTP routes.
type Server struct {
	retrieval     *retrievaluc.Service
	locks         *lockuc.Coordinator
	health        *healthuc.Service
	logger        *zap.Logger
	defaultTopK   int
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. defaultTopK applies when a search
// request omits top_k.
func NewServer(
	retrieval *retrievaluc.Service,
	locks *lockuc.Coordinator,
	health *healthuc.Service,
	logger *zap.Logger,
	defaultTopK int,
) *Server {
	if defaultTopK <= 0 {
		defaultTopK = 8
	}
	s := &Server{
		retrieval:   retrieval,
		locks:       locks,
		health:      health,
		logger:      logger,
		defaultTopK: defaultTopK,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidParameter, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrBlobNotFound, http.StatusNotFound, CodeBlobNotFound),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, CodeDimensionMismatch),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, CodeEmbeddingUnavailable),
		sentinelHandler(domain.ErrStorageUnavailable, http.StatusServiceUnavailable, CodeStorageUnavailable),
	}
	return s
}

// Routes mounts all handlers on the router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/index", s.IndexFile)
		r.Post("/search", s.Search)
		r.Get("/blobs/{blob_sha}", s.GetBlob)
		r.Delete("/blobs/{blob_sha}", s.DeleteBlob)
		r.Post("/locks/acquire", s.AcquireLock)
		r.Post("/locks/release", s.ReleaseLock)
		r.Get("/locks", s.ListLocks)
	})
}

// IndexFile handles POST /api/v1/index.
func (s *Server) IndexFile(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.BlobSHA == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "blob_sha is required")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "path is required")
		return
	}

	records, err := s.retrieval.IndexFile(r.Context(), retrievaluc.IndexFileInput{
		Path:      req.Path,
		Content:   req.Content,
		BlobSHA:   req.BlobSHA,
		CommitSHA: req.CommitSHA,
		Branch:    req.Branch,
		Language:  req.Language,
		Force:     req.Force,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := IndexResponse{
		BlobSHA:    req.BlobSHA,
		Path:       req.Path,
		ChunkCount: len(records),
		Chunks:     make([]ChunkSummary, len(records)),
	}
	for i := range records {
		resp.Chunks[i] = ChunkSummary{ChunkID: records[i].ChunkID, Offset: records[i].Offset}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	topK := s.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	results, err := s.retrieval.Query(r.Context(), req.Query, topK, filtersFromDTO(req.Filters))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]SearchResultItem, len(results))
	for i := range results {
		items[i] = resultToDTO(&results[i])
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: items, Total: len(items)})
}

// GetBlob handles GET /api/v1/blobs/{blob_sha}.
func (s *Server) GetBlob(w http.ResponseWriter, r *http.Request) {
	blobSHA := chi.URLParam(r, "blob_sha")

	meta, err := s.retrieval.CheckBlobMetadata(r.Context(), blobSHA)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metaToDTO(meta))
}

// DeleteBlob handles DELETE /api/v1/blobs/{blob_sha}.
func (s *Server) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	blobSHA := chi.URLParam(r, "blob_sha")

	if err := s.retrieval.Evict(r.Context(), blobSHA); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcquireLock handles POST /api/v1/locks/acquire.
func (s *Server) AcquireLock(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLockRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, AcquireResponse{
		Acquired: s.locks.Acquire(req.Resource, req.Owner),
	})
}

// ReleaseLock handles POST /api/v1/locks/release.
func (s *Server) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLockRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{
		Released: s.locks.Release(req.Resource, req.Owner),
	})
}

// ListLocks handles GET /api/v1/locks.
func (s *Server) ListLocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, locksToDTO(s.locks.List()))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

func decodeLockRequest(w http.ResponseWriter, r *http.Request) (LockRequest, bool) {
	var req LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return LockRequest{}, false
	}
	if req.Resource == "" || req.Owner == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "resource and owner are required")
		return LockRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidParameter,
		domain.ErrBlobNotFound,
		domain.ErrDimensionMismatch,
		domain.ErrEmbeddingUnavailable,
		domain.ErrStorageUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("domain error", zap.String("path", r.URL.Path), zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
