package chunker

import (
	"regexp"
	"strings"

	"politicalassistant/internal/rag/ingest"
	"politicalassistant/internal/tokencount"
)

// Chunk represents a produced chunk of text with its ordinal position and
// token count.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// Chunker interface provides text chunking strategies.
type Chunker interface {
	Chunk(text string, opt ingest.ChunkingOptions) ([]Chunk, error)
}

// SimpleChunker implements multiple lightweight strategies based on options.
type SimpleChunker struct{}

// Chunk splits text into chunks using strategy hints in options, then
// enforces the token budget exactly -- every chunk's token count stays at
// or under opt.MaxTokens, except a chunk holding one word that alone exceeds
// it -- using the real tiktoken-go count rather than the char-length
// heuristic the strategies split on.
func (SimpleChunker) Chunk(text string, opt ingest.ChunkingOptions) ([]Chunk, error) {
	strategy := strings.ToLower(opt.Strategy)
	if strategy == "" {
		strategy = "fixed"
	}
	var out []Chunk
	switch strategy {
	case "fixed", "tokens", "sentences":
		out = fixedChunk(text, opt)
	case "markdown", "md":
		out = markdownChunk(text, opt)
	case "code":
		out = codeChunk(text, opt)
	default:
		out = fixedChunk(text, opt)
	}
	return enforceTokenBudget(out, opt), nil
}

func targetLen(opt ingest.ChunkingOptions) int {
	n := opt.MaxTokens
	if n <= 0 {
		n = 512
	}
	// treat as approximate characters per chunk if tokens unknown
	return n * 4 // rough 4 chars per token heuristic
}

// enforceTokenBudget computes the real token count for every chunk via
// tokencount.Default() and splits any chunk whose count exceeds
// opt.MaxTokens, regardless of which strategy produced it. The char-length
// heuristics in fixedChunk/markdownChunk/codeChunk keep most chunks under
// budget already; this pass is what makes the guarantee exact and strategy-
// independent.
func enforceTokenBudget(chunks []Chunk, opt ingest.ChunkingOptions) []Chunk {
	maxTokens := opt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	counter := tokencount.Default()
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		n := counter.Count(c.Text)
		if n <= maxTokens {
			out = append(out, Chunk{Text: c.Text, TokenCount: n})
			continue
		}
		for _, piece := range splitByTokenLimit(c.Text, maxTokens, counter) {
			out = append(out, Chunk{Text: piece, TokenCount: counter.Count(piece)})
		}
	}
	for i := range out {
		out[i].Index = i
	}
	return out
}

// splitByTokenLimit breaks text into word-boundary pieces that each fit
// within maxTokens, used as the hard fallback when a chunk's accurate token
// count exceeds what the char-heuristic strategies estimated (e.g. dense
// non-English text, or a single long paragraph with no blank lines). A single
// word whose own count exceeds maxTokens becomes a piece on its own.
func splitByTokenLimit(text string, maxTokens int, counter tokencount.Counter) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var pieces []string
	var cur []string
	for _, w := range words {
		if len(cur) > 0 && counter.Count(strings.Join(cur, " ")+" "+w) > maxTokens {
			pieces = append(pieces, strings.Join(cur, " "))
			cur = nil
		}
		cur = append(cur, w)
	}
	if len(cur) > 0 {
		pieces = append(pieces, strings.Join(cur, " "))
	}
	return pieces
}

// fixedChunk makes contiguous chunks of target size with optional overlap.
func fixedChunk(text string, opt ingest.ChunkingOptions) []Chunk {
	tgt := targetLen(opt)
	if tgt < 32 {
		tgt = 32
	}
	ov := opt.Overlap
	if ov < 0 {
		ov = 0
	}
	ovChars := ov * 4
	var out []Chunk
	start := 0
	idx := 0
	for start < len(text) {
		end := start + tgt
		if end >= len(text) {
			end = len(text)
		} else if i := strings.LastIndexAny(text[start:end], " \t\n"); i > 0 {
			// cut at the last whitespace inside the window so a word is
			// never bisected
			end = start + i
		} else if j := strings.IndexAny(text[end:], " \t\n"); j >= 0 {
			// the window is one unbroken run (a URL, hash, DOI): extend to
			// the run's end rather than cut through it
			end += j
		} else {
			end = len(text)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			out = append(out, Chunk{Index: idx, Text: chunk})
			idx++
		}
		if end == len(text) {
			break
		}
		// next start considers overlap, snapped forward to a word boundary
		next := end - ovChars
		if next <= start {
			next = end
		} else if k := strings.IndexAny(text[next:end], " \t\n"); k >= 0 {
			next += k + 1
		} else {
			next = end
		}
		start = next
	}
	return out
}

// markdownChunk prefers splitting on headings and paragraph breaks and
// preserves headings. A single paragraph with no blank line (common in
// PDF/OCR-extracted text) would otherwise accumulate without bound, so a
// hard-size fallback flushes once the buffer grows past twice the target
// even mid-paragraph.
func markdownChunk(text string, opt ingest.ChunkingOptions) []Chunk {
	tgt := targetLen(opt)
	lines := strings.Split(text, "\n")
	var out []Chunk
	var buf strings.Builder
	idx := 0
	writeFlush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			out = append(out, Chunk{Index: idx, Text: s})
			idx++
			buf.Reset()
		}
	}
	for i, ln := range lines {
		isHeading := strings.HasPrefix(ln, "#")
		isParaBreak := strings.TrimSpace(ln) == "" && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != ""
		// Always consider heading as a hard boundary when buffer has content
		if isHeading && buf.Len() > 0 {
			writeFlush()
		}
		// Append line
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(ln)
		// Consider flushing at paragraph boundary if exceeding target
		if (isHeading || isParaBreak) && buf.Len() >= tgt {
			writeFlush()
			continue
		}
		// Hard fallback: a paragraph alone already exceeds the budget with
		// no blank line in sight -- flush now instead of waiting for one.
		if buf.Len() >= tgt*2 {
			writeFlush()
		}
	}
	writeFlush()
	return out
}

var codeSplitRe = regexp.MustCompile(`(?m)^\s*(func |class |def |#[#\s]|//)`) // heuristics for code boundaries

// codeChunk attempts to respect function/class boundaries and comments.
func codeChunk(text string, opt ingest.ChunkingOptions) []Chunk {
	tgt := targetLen(opt)
	lines := strings.Split(text, "\n")
	var out []Chunk
	var buf strings.Builder
	idx := 0
	for i, ln := range lines {
		if codeSplitRe.MatchString(ln) && (buf.Len() > 0 && (buf.Len()+len(ln)+1 > tgt || strings.Contains(buf.String(), "func "))) {
			out = append(out, Chunk{Index: idx, Text: strings.TrimRight(buf.String(), "\n")})
			idx++
			buf.Reset()
		}
		buf.WriteString(ln)
		if i < len(lines)-1 {
			buf.WriteString("\n")
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		out = append(out, Chunk{Index: idx, Text: s})
	}
	return out
}
