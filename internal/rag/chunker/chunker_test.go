package chunker

import (
	"strings"
	"testing"

	"politicalassistant/internal/rag/ingest"
)

func genText(words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestFixedChunk_SizeToleranceAndOverlap(t *testing.T) {
	text := genText(2000) // ~8000 chars
	ch := SimpleChunker{}
	opt := ingest.ChunkingOptions{Strategy: "fixed", MaxTokens: 200, Overlap: 10}
	chunks, err := ch.Chunk(text, opt)
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected some chunks")
	}
	tgt := 200 * 4
	tolLow, tolHigh := int(float64(tgt)*0.9), int(float64(tgt)*1.1)
	for i, c := range chunks {
		if i == len(chunks)-1 {
			break
		}
		if l := len(c.Text); !(l >= tolLow && l <= tolHigh) {
			t.Fatalf("chunk %d length %d out of tolerance [%d,%d]", i, l, tolLow, tolHigh)
		}
	}
}

func TestFixedChunk_NeverSplitsUnbrokenRun(t *testing.T) {
	// A long whitespace-free run (URL, hash, DOI) spanning the whole window
	// must never be bisected at a chunk boundary.
	run := "https://doi.example.org/10.5555/" + strings.Repeat("abcdef0123", 50)
	text := genText(100) + " " + run + " " + genText(100)
	ch := SimpleChunker{}
	chunks, err := ch.Chunk(text, ingest.ChunkingOptions{Strategy: "fixed", MaxTokens: 50, Overlap: 5})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	whole := 0
	prefix := run[:40]
	for _, c := range chunks {
		if strings.Contains(c.Text, run) {
			whole++
			continue
		}
		if strings.Contains(c.Text, prefix) {
			t.Fatalf("run was bisected across chunks: %q", c.Text)
		}
	}
	if whole != 1 {
		t.Fatalf("unbroken run should appear whole in exactly one chunk, found %d", whole)
	}
}

func TestMarkdownChunk_PreservesHeadings(t *testing.T) {
	text := "# Title\n\npara1 text here.\n\n## Sub\n\npara2 text here."
	ch := SimpleChunker{}
	// Small target to force multiple chunks
	chunks, err := ch.Chunk(text, ingest.ChunkingOptions{Strategy: "md", MaxTokens: 10})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected >=2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "# Title") {
		t.Fatalf("first chunk should contain heading: %q", chunks[0].Text)
	}
}

func TestChunk_TokenCountNeverExceedsMax(t *testing.T) {
	// A single long paragraph with no blank line -- the case markdownChunk
	// previously let grow unbounded.
	var b strings.Builder
	for i := 0; i < 3000; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("paragraph")
	}
	text := "# Heading\n" + b.String()

	ch := SimpleChunker{}
	chunks, err := ch.Chunk(text, ingest.ChunkingOptions{Strategy: "markdown", MaxTokens: 50})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected the long paragraph to be split into multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.TokenCount > 50 {
			t.Fatalf("chunk %d token count %d exceeds max 50", i, c.TokenCount)
		}
		if c.TokenCount <= 0 {
			t.Fatalf("chunk %d has non-positive token count %d", i, c.TokenCount)
		}
	}
}

func TestChunk_IndexesAreContiguous(t *testing.T) {
	ch := SimpleChunker{}
	chunks, err := ch.Chunk(genText(500), ingest.ChunkingOptions{Strategy: "fixed", MaxTokens: 20})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has Index %d, want %d", i, c.Index, i)
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := "# Title\n\n" + genText(800) + "\n\n## Sub\n\n" + genText(400)
	ch := SimpleChunker{}
	opt := ingest.ChunkingOptions{Strategy: "markdown", MaxTokens: 60, Overlap: 5}
	first, err := ch.Chunk(text, opt)
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	second, err := ch.Chunk(text, opt)
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text || first[i].TokenCount != second[i].TokenCount {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestCodeChunk_RarelySplitsFunctions(t *testing.T) {
	text := "package x\n\n// comment\n\nfunc A() {}\n\nfunc B() {}\n\nfunc C() {}\n"
	ch := SimpleChunker{}
	chunks, err := ch.Chunk(text, ingest.ChunkingOptions{Strategy: "code", MaxTokens: 8})
	if err != nil {
		t.Fatalf("chunk error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks")
	}
	// Heuristic: each chunk should contain whole functions when possible
	for _, c := range chunks {
		if strings.Count(c.Text, "func ") > 1 {
			t.Fatalf("chunk should not contain many functions: %q", c.Text)
		}
	}
}
