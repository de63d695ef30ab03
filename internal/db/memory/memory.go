// Package memory implements db.Store in process memory with brute-force
// cosine ranking. It backs the "memory" driver for single-binary deployments
// and serves as the test double for the redis driver.
package memory

import (
	"context"
	"encoding/binary"
	"math"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sift-systems/siftd/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store is an in-process db.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	hashes  map[string]map[string]string
	order   map[string]int // key -> insertion sequence, for stable tie-breaks
	seq     int
	kv      map[string][]byte
	indexes map[string]*db.IndexDefinition
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		hashes:  make(map[string]map[string]string),
		order:   make(map[string]int),
		kv:      make(map[string][]byte),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// HSet sets hash fields, merging into any existing hash.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hsetLocked(key, fields)
	return nil
}

// HSetMulti stores multiple hashes under one lock acquisition, so readers
// observe either none or all of the batch.
func (s *Store) HSetMulti(_ context.Context, items []db.HashSetItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.hsetLocked(item.Key, item.Fields)
	}
	return nil
}

func (s *Store) hsetLocked(key string, fields map[string]string) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
		s.order[key] = s.seq
		s.seq++
	}
	for k, v := range fields {
		h[k] = v
	}
}

// HGetAll returns a copy of all fields of a hash. Missing key yields an
// empty map, matching Redis HGETALL semantics.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyFields(s.hashes[key]), nil
}

// HGetAllMulti returns field copies for multiple hashes.
func (s *Store) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		out[i] = copyFields(s.hashes[key])
	}
	return out, nil
}

// Del deletes keys from both the hash and KV spaces.
func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.order, key)
		delete(s.kv, key)
	}
	return nil
}

// Exists checks key existence in the hash or KV space.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.hashes[key]; ok {
		return true, nil
	}
	_, ok := s.kv[key]
	return ok, nil
}

// Scan returns keys matching a glob pattern with a single '*' wildcard.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.hashes {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	for key := range s.kv {
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Get retrieves a KV value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a KV value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.kv[key] = v
	return nil
}

// SetWithTTL stores a KV value; the TTL is ignored (process-lifetime store).
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return s.Set(ctx, key, value)
}

// EnsureIndex registers an index definition. Creating an existing index is a no-op.
func (s *Store) EnsureIndex(_ context.Context, def *db.IndexDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[def.Name]; ok {
		return nil
	}
	s.indexes[def.Name] = def
	return nil
}

// DropIndex removes an index definition.
func (s *Store) DropIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(s.indexes, name)
	return nil
}

// SearchKNN ranks all hashes under the index prefixes by cosine similarity
// against the query vector, applying tag filters before ranking. Results are
// sorted descending by score; ties keep insertion order so that repeated
// queries over the same index state are deterministic.
func (s *Store) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.indexes[q.IndexName]
	if !ok {
		return &db.SearchResult{}, nil
	}

	type candidate struct {
		key    string
		seq    int
		score  float64
		fields map[string]string
	}

	var cands []candidate
	for key, fields := range s.hashes {
		if !hasPrefix(key, def.Prefixes) {
			continue
		}
		if !matchFilters(fields, q.Filters) {
			continue
		}
		vec := bytesToVector(fields["vector"])
		if len(vec) == 0 {
			continue
		}
		score := max(0, cosineSimilarity(q.Vector, vec))
		cands = append(cands, candidate{key: key, seq: s.order[key], score: score, fields: fields})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].seq < cands[j].seq
	})

	if q.K < len(cands) {
		cands = cands[:q.K]
	}

	entries := make([]db.SearchEntry, len(cands))
	for i, c := range cands {
		entries[i] = db.SearchEntry{
			Key:    c.key,
			Score:  c.score,
			Fields: returnFields(c.fields, q.ReturnFields),
		}
	}

	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 on length mismatch or zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func hasPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return len(prefixes) == 0
}

func matchFilters(fields map[string]string, filters []db.TagFilter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		if f.Prefix {
			if !strings.HasPrefix(v, f.Value) {
				return false
			}
		} else if v != f.Value {
			return false
		}
	}
	return true
}

func returnFields(fields map[string]string, names []string) map[string]string {
	if len(names) == 0 {
		return copyFields(fields)
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := fields[n]; ok {
			out[n] = v
		}
	}
	return out
}

func copyFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
