package indexer

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"two units no overlap", "A B C D", 2, 0, []string{"A B", "C D"}},
		{"short last chunk", "A B C D E", 2, 0, []string{"A B", "C D", "E"}},
		{"overlap", "one two three four five six seven", 3, 1, []string{"one two three", "three four five", "five six seven"}},
		{"fits in one", "X Y", 2, 0, []string{"X Y"}},
		{"collapses whitespace", "  a\n\tb   c ", 10, 2, []string{"a b c"}},
		{"empty", "", 5, 1, nil},
		{"whitespace only", "   \n\t  ", 5, 1, nil},
		{"overlap >= size still advances", "a b c", 2, 5, []string{"a b", "b c"}},
		{"non-positive size keeps all", "a b c", 0, 0, []string{"a b c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.size, tt.overlap)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q, %d, %d) = %q, want %q", tt.text, tt.size, tt.overlap, got, tt.want)
			}
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	first := Split(text, 17, 4)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(first, Split(text, 17, 4)) {
			t.Fatal("Split is not deterministic")
		}
	}
}

func TestSplit_OverlapSharesWords(t *testing.T) {
	chunks := Split(strings.Repeat("w ", 50), 10, 3)
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		if len(prev) < 3 {
			continue
		}
		if !reflect.DeepEqual(prev[len(prev)-3:], cur[:3]) {
			t.Errorf("chunk %d does not share 3 words with chunk %d", i, i-1)
		}
	}
}

func TestChunker_Split(t *testing.T) {
	c := NewChunker(3, 1)
	chunks := c.Split("one two three four five six seven")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}
