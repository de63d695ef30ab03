package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/sift-systems/siftd/internal/domain"
)

func TestNew_InvalidParams(t *testing.T) {
	cases := []struct {
		name    string
		max     int
		overlap int
	}{
		{"zero max", 0, 0},
		{"negative max", -1, 0},
		{"negative overlap", 100, -1},
		{"overlap equals max", 100, 100},
		{"overlap exceeds max", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.max, tc.overlap); !errors.Is(err, domain.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestSplit_Empty(t *testing.T) {
	s, err := New(100, 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Split(""); got != nil {
		t.Errorf("expected nil for empty content, got %d chunks", len(got))
	}
}

func TestSplit_SingleChunk(t *testing.T) {
	s, _ := New(100, 20)
	content := "short line\n"

	chunks := s.Split(content)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != content {
		t.Errorf("expected content preserved, got %q", chunks[0].Text)
	}
	if chunks[0].Offset != 0 {
		t.Errorf("expected offset 0, got %d", chunks[0].Offset)
	}
}

func TestSplit_LineBoundaries(t *testing.T) {
	s, _ := New(100, 20)

	// Three ~40-rune lines: two fit per chunk, the third spills over.
	line := strings.Repeat("x", 39) + "\n"
	content := line + line + line

	chunks := s.Split(content)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, line) {
		t.Errorf("first chunk should start with first line")
	}
	// Overlap budget (20) is smaller than a full line (40), so nothing carries.
	if chunks[1].Offset != len(chunks[0].Text) {
		t.Errorf("expected second chunk at offset %d, got %d", len(chunks[0].Text), chunks[1].Offset)
	}
}

func TestSplit_OverlapCarriesTrailingLines(t *testing.T) {
	s, _ := New(30, 10)

	// 10-rune lines; chunks hold 3 lines, and one line fits the overlap budget.
	line := strings.Repeat("a", 9) + "\n"
	content := strings.Repeat(line, 6)

	chunks := s.Split(content)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.Offset >= prev.Offset+len(prev.Text) {
			t.Errorf("chunk %d should overlap its predecessor: prev end %d, offset %d",
				i, prev.Offset+len(prev.Text), cur.Offset)
		}
	}
}

func TestSplit_LongLineFallsBackToWindows(t *testing.T) {
	s, _ := New(100, 20)
	content := strings.Repeat("z", 250) // single line, no \n

	chunks := s.Split(content)
	if len(chunks) < 3 {
		t.Fatalf("expected windowed chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > 100 {
			t.Errorf("chunk %d has %d runes, max is 100", i, n)
		}
	}
	// Consecutive windows advance by size-overlap.
	if chunks[1].Offset != 80 {
		t.Errorf("expected second window at offset 80, got %d", chunks[1].Offset)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	s, _ := New(100, 20)
	content := "line one\nline two\n" + strings.Repeat("padding text here\n", 20)

	first := s.Split(content)
	second := s.Split(content)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_OffsetsLocateText(t *testing.T) {
	s, _ := New(50, 10)
	content := strings.Repeat("some source line\n", 12)

	for i, c := range s.Split(content) {
		if content[c.Offset:c.Offset+len(c.Text)] != c.Text {
			t.Errorf("chunk %d offset %d does not locate its text", i, c.Offset)
		}
	}
}

func TestSplit_MultiByteRunes(t *testing.T) {
	s, _ := New(10, 2)
	content := strings.Repeat("日本語テキスト", 5) // 30 runes, 90 bytes, one line

	chunks := s.Split(content)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > 10 {
			t.Errorf("chunk %d has %d runes, max is 10", i, n)
		}
		if content[c.Offset:c.Offset+len(c.Text)] != c.Text {
			t.Errorf("chunk %d offset is not a valid byte offset", i)
		}
	}
}
