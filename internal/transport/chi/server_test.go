package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sift-systems/siftd/internal/chunker"
	"github.com/sift-systems/siftd/internal/db/memory"
	"github.com/sift-systems/siftd/internal/domain"
	"github.com/sift-systems/siftd/internal/repository/chunks"
	healthuc "github.com/sift-systems/siftd/internal/usecase/health"
	lockuc "github.com/sift-systems/siftd/internal/usecase/locks"
	retrievaluc "github.com/sift-systems/siftd/internal/usecase/retrieval"
)

// --- Mocks ---

// wordEmbedder produces deterministic 2-dim vectors so that texts sharing a
// keyword rank close together.
type wordEmbedder struct{}

func (wordEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "hello") {
			embeddings[i] = []float32{1, 0}
		} else {
			embeddings[i] = []float32{0, 1}
		}
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings, TotalTokens: len(texts)}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.NewStore()
	repo := chunks.New(store, 2, 8)
	if err := repo.EnsureIndex(context.Background(), chunks.HNSWConfig{}); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	splitter, err := chunker.New(100, 20)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}

	server := NewServer(
		retrievaluc.New(repo, wordEmbedder{}, splitter, 100),
		lockuc.New(),
		healthuc.New(store, nil),
		zap.NewNop(),
		8,
	)

	r := chi.NewRouter()
	server.Routes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func indexBody(blobSHA, content string) IndexRequest {
	return IndexRequest{
		Path:      "src/app.py",
		Content:   content,
		BlobSHA:   blobSHA,
		CommitSHA: "c0ffee",
		Branch:    "main",
		Language:  "python",
	}
}

// --- Tests ---

func TestIndexEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var out IndexResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/index", indexBody("abc123", "def hello():\n    pass\n"), &out)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.BlobSHA != "abc123" || out.ChunkCount != 1 {
		t.Errorf("unexpected response: %+v", out)
	}
	if out.Chunks[0].ChunkID != "abc123:0" {
		t.Errorf("expected chunk id abc123:0, got %s", out.Chunks[0].ChunkID)
	}
}

func TestIndexEndpoint_Validation(t *testing.T) {
	ts := newTestServer(t)

	var errOut ErrorResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/index", IndexRequest{Path: "a.py", Content: "x"}, &errOut)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing blob_sha, got %d", resp.StatusCode)
	}
	if errOut.Code != CodeValidationFailed {
		t.Errorf("expected code %q, got %q", CodeValidationFailed, errOut.Code)
	}
}

func TestSearchEndpoint_RanksKeywordMatches(t *testing.T) {
	ts := newTestServer(t)

	contents := []string{
		"hello world greeting\n",
		"hello again friend\n",
		"database connection pool\n",
		"sorting algorithm impl\n",
		"parser token stream\n",
	}
	for i, content := range contents {
		resp := doJSON(t, ts, http.MethodPost, "/api/v1/index", indexBody(fmt.Sprintf("blob%d", i), content), nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("index %d: status %d", i, resp.StatusCode)
		}
	}

	topK := 3
	var out SearchResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/search",
		SearchRequest{Query: "hello world function", TopK: &topK}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(out.Results) > 3 {
		t.Fatalf("expected at most 3 results, got %d", len(out.Results))
	}
	for i := 1; i < len(out.Results); i++ {
		if out.Results[i].Score > out.Results[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
	for _, r := range out.Results[:2] {
		if !strings.Contains(r.Content, "hello") {
			t.Errorf("expected hello chunks ranked first, got %q", r.Content)
		}
	}
}

func TestSearchEndpoint_InvalidTopK(t *testing.T) {
	ts := newTestServer(t)

	zero := 0
	var errOut ErrorResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/search", SearchRequest{Query: "x", TopK: &zero}, &errOut)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if errOut.Code != CodeValidationFailed {
		t.Errorf("expected code %q, got %q", CodeValidationFailed, errOut.Code)
	}
}

func TestBlobEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/api/v1/blobs/unknown", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown blob, got %d", resp.StatusCode)
	}

	doJSON(t, ts, http.MethodPost, "/api/v1/index", indexBody("abc123", "print('hi')\n"), nil)

	var meta BlobResponse
	resp = doJSON(t, ts, http.MethodGet, "/api/v1/blobs/abc123", nil, &meta)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if meta.BlobSHA != "abc123" || meta.ChunkCount != 1 || meta.Path != "src/app.py" {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	resp = doJSON(t, ts, http.MethodDelete, "/api/v1/blobs/abc123", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, ts, http.MethodGet, "/api/v1/blobs/abc123", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after eviction, got %d", resp.StatusCode)
	}
}

func TestLockEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var acq AcquireResponse
	doJSON(t, ts, http.MethodPost, "/api/v1/locks/acquire", LockRequest{Resource: "file.py", Owner: "agentA"}, &acq)
	if !acq.Acquired {
		t.Fatal("agentA should acquire")
	}

	resp := doJSON(t, ts, http.MethodPost, "/api/v1/locks/acquire", LockRequest{Resource: "file.py", Owner: "agentB"}, &acq)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("contention must be 200, got %d", resp.StatusCode)
	}
	if acq.Acquired {
		t.Error("agentB must not acquire a held resource")
	}

	var rel ReleaseResponse
	doJSON(t, ts, http.MethodPost, "/api/v1/locks/release", LockRequest{Resource: "file.py", Owner: "agentB"}, &rel)
	if rel.Released {
		t.Error("agentB must not release agentA's lock")
	}

	var list ListLocksResponse
	doJSON(t, ts, http.MethodGet, "/api/v1/locks", nil, &list)
	if info, ok := list.Locks["file.py"]; !ok || info.Owner != "agentA" {
		t.Errorf("expected agentA holding file.py, got %+v", list.Locks)
	}

	doJSON(t, ts, http.MethodPost, "/api/v1/locks/release", LockRequest{Resource: "file.py", Owner: "agentA"}, &rel)
	if !rel.Released {
		t.Error("agentA should release its own lock")
	}

	doJSON(t, ts, http.MethodPost, "/api/v1/locks/acquire", LockRequest{Resource: "file.py", Owner: "agentB"}, &acq)
	if !acq.Acquired {
		t.Error("agentB should acquire after release")
	}
}

func TestLockEndpoints_Validation(t *testing.T) {
	ts := newTestServer(t)

	var errOut ErrorResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/v1/locks/acquire", LockRequest{Resource: "file.py"}, &errOut)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing owner, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var out HealthResponse
	resp := doJSON(t, ts, http.MethodGet, "/health", nil, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out.Status != "ok" || out.Checks["store"] != "ok" {
		t.Errorf("unexpected health report: %+v", out)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
