// Package citation builds numbered reference maps for drafting prompts and
// validates/injects `[n]` citation markers in LLM output, as small pure
// pipeline-stage helpers rather than reducer-style ambient state.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"politicalassistant/internal/docstore"
)

// Candidate is a prospective reference before deduplication/diversification
// assigns it a stable numeric id.
type Candidate struct {
	URL        string
	Title      string
	Snippet    string
	DocID      string
	ChunkIndex int
	SourceKind docstore.SourceKind
	Score      float64
}

// Limits bounds the reference map built from a candidate set.
type Limits struct {
	LimitPerDoc int
	MaxTotal    int
}

// BuildReferenceMap dedupes candidates by URL, caps how many references come
// from a single document (limitPerDoc), caps the total, and assigns
// ascending numeric ids in input order. Candidates with an empty URL are
// deduped by DocID+ChunkIndex instead, so chunk-level references from a
// single document still diversify correctly.
func BuildReferenceMap(candidates []Candidate, limits Limits) docstore.ReferenceMap {
	limitPerDoc := limits.LimitPerDoc
	if limitPerDoc <= 0 {
		limitPerDoc = 4
	}
	maxTotal := limits.MaxTotal
	if maxTotal <= 0 {
		maxTotal = 12
	}

	seenKeys := make(map[string]bool)
	perDocCount := make(map[string]int)
	out := make(docstore.ReferenceMap)
	nextID := 1

	for _, c := range candidates {
		if nextID > maxTotal {
			break
		}
		key := dedupeKey(c)
		if seenKeys[key] {
			continue
		}
		docKey := c.DocID
		if docKey == "" {
			docKey = c.URL
		}
		if docKey != "" && perDocCount[docKey] >= limitPerDoc {
			continue
		}
		seenKeys[key] = true
		perDocCount[docKey]++

		out[nextID] = docstore.Reference{
			NumericID:       nextID,
			Title:           c.Title,
			Snippets:        []string{c.Snippet},
			URL:             c.URL,
			SourceKind:      c.SourceKind,
			SimilarityScore: c.Score,
			ChunkIndex:      c.ChunkIndex,
			DocID:           c.DocID,
		}
		nextID++
	}
	return out
}

func dedupeKey(c Candidate) string {
	if c.URL != "" {
		return "url:" + c.URL
	}
	return fmt.Sprintf("doc:%s:%d", c.DocID, c.ChunkIndex)
}

// SummariseReferencesForPrompt produces a compact, numbered textual list the
// model is instructed to cite from, in ascending id order.
func SummariseReferencesForPrompt(refs docstore.ReferenceMap) string {
	if len(refs) == 0 {
		return ""
	}
	ids := make([]int, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sortInts(ids)

	var b strings.Builder
	for _, id := range ids {
		ref := refs[id]
		b.WriteString(fmt.Sprintf("[%d] %s", id, ref.Title))
		if ref.URL != "" {
			b.WriteString(" (" + ref.URL + ")")
		}
		b.WriteString("\n")
		for _, s := range ref.Snippets {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			b.WriteString("    " + s + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// ValidationResult is the outcome of validating a draft against a
// reference map.
type ValidationResult struct {
	CleanDraft string
	Citations  []docstore.Citation
	Sources    []docstore.Reference
	Errors     []string
}

// markerRE matches a single `[n]` marker; markers glued to punctuation
// ("fact[1].") and repeated/adjacent markers ("fact[1][2]") are handled by
// matching each bracket group independently.
var markerRE = regexp.MustCompile(`\[(\d+)\]`)

// ValidateAndInject finds `[n]` markers in draft, strips markers whose id is
// not present in refs (recording them in Errors), and returns the cleaned
// draft plus the in-order citations and the unique sources actually cited
//.
func ValidateAndInject(draft string, refs docstore.ReferenceMap) ValidationResult {
	var citations []docstore.Citation
	var errs []string
	seenSourceIDs := make(map[int]bool)
	var sources []docstore.Reference
	markerSeq := 0
	removed := false

	clean := markerRE.ReplaceAllStringFunc(draft, func(m string) string {
		sub := markerRE.FindStringSubmatch(m)
		id, err := strconv.Atoi(sub[1])
		if err != nil {
			errs = append(errs, fmt.Sprintf("unparsable marker %q", m))
			removed = true
			return ""
		}
		ref, ok := refs[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown reference id %d", id))
			removed = true
			return ""
		}
		markerSeq++
		citations = append(citations, docstore.Citation{MarkerID: markerSeq, ReferenceID: id})
		if !seenSourceIDs[id] {
			seenSourceIDs[id] = true
			sources = append(sources, ref)
		}
		return m
	})

	// Only the removal of a marker can leave a stray space behind; a draft
	// whose markers all validate passes through byte-identical.
	if removed {
		clean = collapseSpaceBeforePunctuation(clean)
	}
	return ValidationResult{
		CleanDraft: clean,
		Citations:  citations,
		Sources:    sources,
		Errors:     errs,
	}
}

// collapseSpaceBeforePunctuation removes the stray space left behind when a
// marker immediately preceding punctuation is stripped (e.g. "B [9]." ->
// "B.").
var spaceBeforePunct = regexp.MustCompile(`[ \t]+([.,;:!?])`)
var doubleSpace = regexp.MustCompile(`[ \t]{2,}`)

func collapseSpaceBeforePunctuation(s string) string {
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = doubleSpace.ReplaceAllString(s, " ")
	return s
}
