package tokencount

import (
	"strings"
	"testing"
)

func TestCountDeterministic(t *testing.T) {
	c := Default()
	text := "Kommunaler Klimaschutz in mittelgroßen Städten, heute und morgen."
	if a, b := c.Count(text), c.Count(text); a != b {
		t.Fatalf("counts differ across calls: %d vs %d", a, b)
	}
}

func TestCountMonotoneWithLength(t *testing.T) {
	c := Default()
	short := strings.Repeat("word ", 10)
	long := strings.Repeat("word ", 100)
	if c.Count(short) >= c.Count(long) {
		t.Fatalf("longer text should count more tokens: %d vs %d", c.Count(short), c.Count(long))
	}
}

func TestUnknownEncodingFallsBackToWordCount(t *testing.T) {
	c := New("no-such-encoding")
	if got := c.Count("one two three"); got != 3 {
		t.Fatalf("word-count fallback: got %d, want 3", got)
	}
}

func TestCountEmpty(t *testing.T) {
	if got := Default().Count(""); got != 0 {
		t.Fatalf("empty text should count 0 tokens, got %d", got)
	}
}
