package chunks

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/sift-systems/siftd/internal/db"
	"github.com/sift-systems/siftd/internal/domain"
)

// Hash field names for chunk records and blob metadata.
const (
	fieldChunkID   = "chunk_id"
	fieldBlobSHA   = "blob_sha"
	fieldPath      = "path"
	fieldCommitSHA = "commit_sha"
	fieldBranch    = "branch"
	fieldLanguage  = "language"
	fieldContent   = "content"
	fieldOffset    = "offset"
	fieldVector    = "vector"
	fieldCount     = "chunk_count"
)

func recordToFields(rec *domain.ChunkRecord) map[string]string {
	return map[string]string{
		fieldChunkID:   rec.ChunkID,
		fieldBlobSHA:   rec.BlobSHA,
		fieldPath:      rec.Path,
		fieldCommitSHA: rec.CommitSHA,
		fieldBranch:    rec.Branch,
		fieldLanguage:  rec.Language,
		fieldContent:   rec.Content,
		fieldOffset:    strconv.Itoa(rec.Offset),
		fieldVector:    vectorToBytes(rec.Embedding),
	}
}

func fieldsToRecord(fields map[string]string) domain.ChunkRecord {
	offset, _ := strconv.Atoi(fields[fieldOffset])
	return domain.ChunkRecord{
		ChunkID:   fields[fieldChunkID],
		BlobSHA:   fields[fieldBlobSHA],
		Path:      fields[fieldPath],
		CommitSHA: fields[fieldCommitSHA],
		Branch:    fields[fieldBranch],
		Language:  fields[fieldLanguage],
		Content:   fields[fieldContent],
		Offset:    offset,
		Embedding: bytesToVector(fields[fieldVector]),
	}
}

func metaToFields(meta *domain.BlobMetadata) map[string]string {
	return map[string]string{
		fieldBlobSHA:   meta.BlobSHA,
		fieldPath:      meta.Path,
		fieldCommitSHA: meta.CommitSHA,
		fieldBranch:    meta.Branch,
		fieldLanguage:  meta.Language,
		fieldCount:     strconv.Itoa(meta.ChunkCount),
	}
}

func fieldsToMeta(fields map[string]string) domain.BlobMetadata {
	count, _ := strconv.Atoi(fields[fieldCount])
	return domain.BlobMetadata{
		BlobSHA:    fields[fieldBlobSHA],
		Path:       fields[fieldPath],
		CommitSHA:  fields[fieldCommitSHA],
		Branch:     fields[fieldBranch],
		Language:   fields[fieldLanguage],
		ChunkCount: count,
	}
}

func filtersToTags(f domain.QueryFilters) []db.TagFilter {
	var tags []db.TagFilter
	if f.Branch != "" {
		tags = append(tags, db.TagFilter{Field: fieldBranch, Value: f.Branch})
	}
	if f.Language != "" {
		tags = append(tags, db.TagFilter{Field: fieldLanguage, Value: f.Language})
	}
	if f.PathPrefix != "" {
		tags = append(tags, db.TagFilter{Field: fieldPath, Value: f.PathPrefix, Prefix: true})
	}
	return tags
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
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

func chunkKey(blobSHA string, index int) string {
	return fmt.Sprintf("%schunk:%s:%d", domain.KeyPrefix, blobSHA, index)
}

func blobKey(blobSHA string) string {
	return domain.KeyPrefix + "blob:" + blobSHA
}
