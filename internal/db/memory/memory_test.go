package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/sift-systems/siftd/internal/db"
)

func encodeVector(v []float32) string {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return string(b)
}

func seedIndex(t *testing.T, s *Store) {
	t.Helper()
	err := s.EnsureIndex(context.Background(), &db.IndexDefinition{
		Name:     "test:idx",
		Prefixes: []string{"test:chunk:"},
	})
	if err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
}

func TestHashRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.HSet(ctx, "k1", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := s.HSet(ctx, "k1", map[string]string{"b": "2"}); err != nil {
		t.Fatalf("HSet merge: %v", err)
	}

	got, err := s.HGetAll(ctx, "k1")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("expected merged fields, got %v", got)
	}

	missing, err := s.HGetAll(ctx, "nope")
	if err != nil {
		t.Fatalf("HGetAll missing: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("expected empty map for missing key, got %v", missing)
	}
}

func TestHGetAllMulti_PreservesOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.HSetMulti(ctx, []db.HashSetItem{
		{Key: "a", Fields: map[string]string{"n": "0"}},
		{Key: "b", Fields: map[string]string{"n": "1"}},
	})

	out, err := s.HGetAllMulti(ctx, []string{"b", "missing", "a"})
	if err != nil {
		t.Fatalf("HGetAllMulti: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0]["n"] != "1" || out[2]["n"] != "0" {
		t.Errorf("results not aligned with request order: %v", out)
	}
	if len(out[1]) != 0 {
		t.Errorf("expected empty map for missing key, got %v", out[1])
	}
}

func TestDel(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.HSet(ctx, "h", map[string]string{"a": "1"})
	_ = s.Set(ctx, "v", []byte("x"))

	if err := s.Del(ctx, "h", "v"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if ok, _ := s.Exists(ctx, "h"); ok {
		t.Error("hash key should be gone")
	}
	if _, err := s.Get(ctx, "v"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "hello" {
		t.Errorf("expected %q, got %q", "hello", v)
	}
}

func TestSearchKNN_MissingIndexIsEmpty(t *testing.T) {
	s := NewStore()

	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "absent", Vector: []float32{1, 0}, K: 5,
	})
	if err != nil {
		t.Fatalf("SearchKNN: %v", err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("expected empty result, got %d entries", len(res.Entries))
	}
}

func TestSearchKNN_RanksByCosine(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedIndex(t, s)

	_ = s.HSetMulti(ctx, []db.HashSetItem{
		{Key: "test:chunk:far", Fields: map[string]string{"vector": encodeVector([]float32{0, 1})}},
		{Key: "test:chunk:near", Fields: map[string]string{"vector": encodeVector([]float32{1, 0.01})}},
		{Key: "test:chunk:exact", Fields: map[string]string{"vector": encodeVector([]float32{1, 0})}},
	})

	res, err := s.SearchKNN(ctx, &db.KNNQuery{
		IndexName: "test:idx", Vector: []float32{1, 0}, K: 3,
	})
	if err != nil {
		t.Fatalf("SearchKNN: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Key != "test:chunk:exact" {
		t.Errorf("expected exact match first, got %s", res.Entries[0].Key)
	}
	if res.Entries[1].Key != "test:chunk:near" {
		t.Errorf("expected near match second, got %s", res.Entries[1].Key)
	}
	for i := 1; i < len(res.Entries); i++ {
		if res.Entries[i].Score > res.Entries[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
}

func TestSearchKNN_TruncatesToK(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedIndex(t, s)

	for _, key := range []string{"test:chunk:0", "test:chunk:1", "test:chunk:2"} {
		_ = s.HSet(ctx, key, map[string]string{"vector": encodeVector([]float32{1, 0})})
	}

	res, _ := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "test:idx", Vector: []float32{1, 0}, K: 2})
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
}

func TestSearchKNN_TieBreakByInsertionOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedIndex(t, s)

	// Identical vectors: identical scores, ranked by write order.
	_ = s.HSet(ctx, "test:chunk:first", map[string]string{"vector": encodeVector([]float32{1, 1})})
	_ = s.HSet(ctx, "test:chunk:second", map[string]string{"vector": encodeVector([]float32{1, 1})})

	for i := 0; i < 5; i++ {
		res, _ := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "test:idx", Vector: []float32{1, 1}, K: 2})
		if res.Entries[0].Key != "test:chunk:first" || res.Entries[1].Key != "test:chunk:second" {
			t.Fatalf("run %d: tie-break not stable: %s, %s", i, res.Entries[0].Key, res.Entries[1].Key)
		}
	}
}

func TestSearchKNN_TagFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedIndex(t, s)

	vec := encodeVector([]float32{1, 0})
	_ = s.HSetMulti(ctx, []db.HashSetItem{
		{Key: "test:chunk:a", Fields: map[string]string{"vector": vec, "branch": "main", "path": "src/a.go"}},
		{Key: "test:chunk:b", Fields: map[string]string{"vector": vec, "branch": "dev", "path": "src/b.go"}},
		{Key: "test:chunk:c", Fields: map[string]string{"vector": vec, "branch": "main", "path": "docs/c.md"}},
	})

	res, _ := s.SearchKNN(ctx, &db.KNNQuery{
		IndexName: "test:idx",
		Vector:    []float32{1, 0},
		K:         10,
		Filters: []db.TagFilter{
			{Field: "branch", Value: "main"},
			{Field: "path", Value: "src/", Prefix: true},
		},
	})
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 filtered entry, got %d", len(res.Entries))
	}
	if res.Entries[0].Key != "test:chunk:a" {
		t.Errorf("expected test:chunk:a, got %s", res.Entries[0].Key)
	}
}

func TestSearchKNN_SkipsKeysOutsidePrefix(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedIndex(t, s)

	vec := encodeVector([]float32{1, 0})
	_ = s.HSet(ctx, "test:chunk:in", map[string]string{"vector": vec})
	_ = s.HSet(ctx, "other:out", map[string]string{"vector": vec})

	res, _ := s.SearchKNN(ctx, &db.KNNQuery{IndexName: "test:idx", Vector: []float32{1, 0}, K: 10})
	if len(res.Entries) != 1 || res.Entries[0].Key != "test:chunk:in" {
		t.Errorf("expected only prefixed key, got %v", res.Entries)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors: expected 1, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: expected 0, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("length mismatch: expected 0, got %f", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero magnitude: expected 0, got %f", got)
	}
}
