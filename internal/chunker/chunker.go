// Package chunker splits raw text into overlapping retrievable units.
package chunker

import (
	"fmt"
	"strings"

	"github.com/sift-systems/siftd/internal/domain"
)

// Chunk is a single text span with its byte offset in the original content.
type Chunk struct {
	Offset int
	Text   string
}

// Splitter produces deterministic chunk sequences. Identical content and
// parameters always yield the identical ordered sequence, which is what
// makes re-indexing idempotent and chunk ids reproducible.
type Splitter struct {
	maxChunkSize int // runes
	overlap      int // runes
}

// New creates a splitter. Overlap must be smaller than maxChunkSize.
func New(maxChunkSize, overlap int) (*Splitter, error) {
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", domain.ErrInvalidParameter, maxChunkSize)
	}
	if overlap < 0 || overlap >= maxChunkSize {
		return nil, fmt.Errorf("%w: overlap (%d) must be in [0, max chunk size)", domain.ErrInvalidParameter, overlap)
	}
	return &Splitter{maxChunkSize: maxChunkSize, overlap: overlap}, nil
}

// Split breaks content into ordered chunks. Whole lines are accumulated
// until the next line would exceed the chunk size (logical boundaries);
// lines longer than the chunk size fall back to fixed rune windows with
// overlap. Empty content yields an empty sequence.
func (s *Splitter) Split(content string) []Chunk {
	if content == "" {
		return nil
	}

	var chunks []Chunk
	var acc []string
	accRunes := 0
	byteOffset := 0

	for _, line := range splitLines(content) {
		lineRunes := len([]rune(line))

		if lineRunes > s.maxChunkSize {
			// Flush the accumulator before handling the long line.
			if accRunes > 0 {
				text := strings.Join(acc, "")
				chunks = append(chunks, Chunk{Offset: byteOffset, Text: text})
				byteOffset += len(text)
				acc, accRunes = nil, 0
			}
			for _, sub := range windowRunes(line, s.maxChunkSize, s.overlap) {
				chunks = append(chunks, Chunk{Offset: byteOffset + sub.Offset, Text: sub.Text})
			}
			byteOffset += len(line)
			continue
		}

		if accRunes+lineRunes > s.maxChunkSize && accRunes > 0 {
			text := strings.Join(acc, "")
			chunks = append(chunks, Chunk{Offset: byteOffset, Text: text})
			byteOffset += len(text)

			// Carry trailing lines from the emitted chunk as overlap.
			acc, accRunes = overlapLines(acc, s.overlap)
			byteOffset -= byteLen(acc)
		}

		acc = append(acc, line)
		accRunes += lineRunes
	}

	if accRunes > 0 {
		chunks = append(chunks, Chunk{Offset: byteOffset, Text: strings.Join(acc, "")})
	}

	return chunks
}

// splitLines splits content into lines, preserving the trailing \n on each
// line. The last segment is included even without a trailing \n.
func splitLines(content string) []string {
	var lines []string
	for len(content) > 0 {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			lines = append(lines, content)
			break
		}
		lines = append(lines, content[:idx+1])
		content = content[idx+1:]
	}
	return lines
}

// overlapLines walks backward through lines and returns the trailing lines
// whose total rune count fits within the overlap budget.
func overlapLines(lines []string, overlap int) ([]string, int) {
	if overlap == 0 {
		return nil, 0
	}
	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		r := len([]rune(lines[i]))
		if total+r > overlap {
			break
		}
		total += r
		start = i
	}
	if start == len(lines) {
		return nil, 0
	}
	carried := make([]string, len(lines)-start)
	copy(carried, lines[start:])
	return carried, total
}

func byteLen(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	return n
}

// windowRunes splits content into fixed windows of at most size runes,
// consecutive windows sharing overlap runes.
func windowRunes(content string, size, overlap int) []Chunk {
	runes := []rune(content)
	step := size - overlap
	var result []Chunk
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		slice := runes[i:end]
		// A final window fully contained in the previous one adds nothing.
		if i > 0 && len(slice) <= overlap {
			break
		}
		result = append(result, Chunk{Offset: len(string(runes[:i])), Text: string(slice)})
	}
	return result
}
