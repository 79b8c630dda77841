// Package hybridretriever implements vector, keyword, and Reciprocal Rank
// Fusion hybrid search over the chunk collection, plus the smart full-text
// shortcut used by the request enricher for small documents.
package hybridretriever

import (
	"context"
	"sort"
	"strings"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/rag/embedder"
)

// Mode selects which branch(es) run.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeText   Mode = "text"
	ModeHybrid Mode = "hybrid"
)

// Options configures a single search call.
type Options struct {
	Limit          int
	Mode           Mode
	DocumentIDs    []string
	VectorWeight   float64
	TextWeight     float64
	ScoreThreshold *float64
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	if o.VectorWeight == 0 && o.TextWeight == 0 {
		o.VectorWeight = 0.7
		o.TextWeight = 0.3
	}
	return o
}

// ResultChunk is one fused/ranked chunk.
type ResultChunk struct {
	DocumentID     string
	ChunkText      string
	ChunkIndex     int
	SimilarityScore float64
	Title          string
	Filename       string
	RelevanceInfo  string // "vector" | "text" | "vector+text"
}

// Results is the search(...) response envelope.
type Results struct {
	Results    []ResultChunk
	SearchType string // "vector" | "text" | "hybrid" | "text_fallback"
	Stats      Stats
}

// Stats carries lightweight diagnostics about a search call.
type Stats struct {
	VectorHitCount int
	TextHitCount   int
}

// reciprocalRankK is the RRF rank-smoothing constant.
const reciprocalRankK = 60

// FullTextThreshold is the default chunk-count cutoff for the smart
// full-text shortcut.
const FullTextThreshold = 13

// Retriever runs hybrid search over a single owner-tenanted chunks
// collection.
type Retriever struct {
	vectors    *docstore.VectorIndex
	text       *docstore.TextIndex
	embedder   embedder.Embedder
	collection string
}

// New constructs a Retriever.
func New(vectors *docstore.VectorIndex, text *docstore.TextIndex, emb embedder.Embedder, collection string) *Retriever {
	return &Retriever{vectors: vectors, text: text, embedder: emb, collection: collection}
}

// Search runs the requested branch(es) for query, scoped to owner.
func (r *Retriever) Search(ctx context.Context, query, owner string, opts Options) (Results, error) {
	if strings.TrimSpace(query) == "" {
		return Results{}, apperr.New(apperr.InvalidInput, "hybridretriever", "empty query", nil)
	}
	if strings.TrimSpace(owner) == "" {
		return Results{}, apperr.New(apperr.InvalidInput, "hybridretriever", "missing owner", nil)
	}
	opts = opts.withDefaults()

	var vecHits []docstore.VectorHit
	var vecErr error
	if opts.Mode == ModeVector || opts.Mode == ModeHybrid {
		vecHits, vecErr = r.vectorBranch(ctx, query, owner, opts)
	}

	var textHits []docstore.TextHit
	var textErr error
	if opts.Mode == ModeText || opts.Mode == ModeHybrid {
		textHits, textErr = r.textBranch(ctx, query, owner, opts)
	}

	if opts.Mode == ModeVector {
		if vecErr != nil {
			return Results{}, vecErr
		}
		return Results{
			Results:    vectorOnlyResults(vecHits),
			SearchType: string(ModeVector),
			Stats:      Stats{VectorHitCount: len(vecHits)},
		}, nil
	}

	if opts.Mode == ModeText {
		if textErr != nil {
			return Results{}, textErr
		}
		return Results{
			Results:    textOnlyResults(textHits),
			SearchType: string(ModeText),
			Stats:      Stats{TextHitCount: len(textHits)},
		}, nil
	}

	// Hybrid: if the vector branch failed, degrade to text-only and tag
	// the response as a fallback.
	if vecErr != nil {
		if textErr != nil {
			return Results{}, textErr
		}
		return Results{
			Results:    textOnlyResults(textHits),
			SearchType: "text_fallback",
			Stats:      Stats{TextHitCount: len(textHits)},
		}, nil
	}

	fused := fuse(vecHits, textHits, opts)
	return Results{
		Results:    fused,
		SearchType: string(ModeHybrid),
		Stats:      Stats{VectorHitCount: len(vecHits), TextHitCount: len(textHits)},
	}, nil
}

func (r *Retriever) vectorBranch(ctx context.Context, query, owner string, opts Options) ([]docstore.VectorHit, error) {
	vecs, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, apperr.New(apperr.Transient, "hybridretriever", "query embedding failed", err)
	}
	filter := docstore.Filter{Eq: map[string]string{"owner_id": owner}, DocIDs: opts.DocumentIDs}
	hits, err := r.vectors.Search(ctx, r.collection, vecs[0], filter, opts.Limit, nil)
	if err != nil {
		return nil, err
	}
	threshold := dynamicThreshold(hits)
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out, nil
}

// dynamicThreshold computes a cutoff from the distribution of top-K scores:
// keep results within a relative gap of the top score, with an absolute
// floor.
func dynamicThreshold(hits []docstore.VectorHit) float64 {
	const relativeGap = 0.25
	const absoluteFloor = 0.15
	if len(hits) == 0 {
		return absoluteFloor
	}
	top := hits[0].Score
	for _, h := range hits {
		if h.Score > top {
			top = h.Score
		}
	}
	cutoff := top * (1 - relativeGap)
	if cutoff < absoluteFloor {
		cutoff = absoluteFloor
	}
	return cutoff
}

func (r *Retriever) textBranch(ctx context.Context, query, owner string, opts Options) ([]docstore.TextHit, error) {
	return r.text.Search(ctx, query, owner, opts.DocumentIDs, opts.Limit)
}

func vectorOnlyResults(hits []docstore.VectorHit) []ResultChunk {
	out := make([]ResultChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, ResultChunk{
			DocumentID:      h.DocID,
			ChunkText:       stringPayload(h.Payload, "text"),
			ChunkIndex:      h.ChunkIndex,
			SimilarityScore: h.Score,
			Title:           stringPayload(h.Payload, "title"),
			Filename:        stringPayload(h.Payload, "filename"),
			RelevanceInfo:   "vector",
		})
	}
	return out
}

func textOnlyResults(hits []docstore.TextHit) []ResultChunk {
	out := make([]ResultChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, ResultChunk{
			DocumentID:      h.DocID,
			ChunkText:       h.Text,
			ChunkIndex:      h.ChunkIndex,
			SimilarityScore: h.Score,
			Title:           h.Title,
			Filename:        h.Filename,
			RelevanceInfo:   "text",
		})
	}
	return out
}

func stringPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

type fusedEntry struct {
	chunk    ResultChunk
	score    float64
	vecScore float64 // raw vector-branch score, used only as a tie-break
	rankVec  int      // 0 = absent
	rankText int      // 0 = absent
}

func chunkKey(docID string, idx int) string {
	return docID + "#" + itoa(idx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// fuse combines vector and keyword hits by Reciprocal Rank Fusion:
// score = vector_weight/(k+rank_vec) + text_weight/(k+rank_text), with
// missing-branch entries contributing only the other term. Ties break by
// vector score, then by document id.
func fuse(vecHits []docstore.VectorHit, textHits []docstore.TextHit, opts Options) []ResultChunk {
	entries := make(map[string]*fusedEntry)

	for i, h := range vecHits {
		key := chunkKey(h.DocID, h.ChunkIndex)
		entries[key] = &fusedEntry{
			chunk: ResultChunk{
				DocumentID:      h.DocID,
				ChunkText:       stringPayload(h.Payload, "text"),
				ChunkIndex:      h.ChunkIndex,
				SimilarityScore: h.Score,
				Title:           stringPayload(h.Payload, "title"),
				Filename:        stringPayload(h.Payload, "filename"),
			},
			vecScore: h.Score,
			rankVec:  i + 1,
		}
	}
	for i, h := range textHits {
		key := chunkKey(h.DocID, h.ChunkIndex)
		if e, ok := entries[key]; ok {
			e.rankText = i + 1
			if e.chunk.ChunkText == "" {
				e.chunk.ChunkText = h.Text
			}
			if e.chunk.Title == "" {
				e.chunk.Title = h.Title
			}
			if e.chunk.Filename == "" {
				e.chunk.Filename = h.Filename
			}
			continue
		}
		entries[key] = &fusedEntry{
			chunk: ResultChunk{
				DocumentID:      h.DocID,
				ChunkText:       h.Text,
				ChunkIndex:      h.ChunkIndex,
				SimilarityScore: h.Score,
				Title:           h.Title,
				Filename:        h.Filename,
			},
			rankText: i + 1,
		}
	}

	out := make([]ResultChunk, 0, len(entries))
	for _, e := range entries {
		var score float64
		if e.rankVec > 0 {
			score += opts.VectorWeight / float64(reciprocalRankK+e.rankVec)
		}
		if e.rankText > 0 {
			score += opts.TextWeight / float64(reciprocalRankK+e.rankText)
		}
		e.score = score
		switch {
		case e.rankVec > 0 && e.rankText > 0:
			e.chunk.RelevanceInfo = "vector+text"
		case e.rankVec > 0:
			e.chunk.RelevanceInfo = "vector"
		default:
			e.chunk.RelevanceInfo = "text"
		}
		e.chunk.SimilarityScore = score
		out = append(out, e.chunk)
	}

	sortByFusionScore(out, entries)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func sortByFusionScore(out []ResultChunk, entries map[string]*fusedEntry) {
	byKey := make(map[string]*fusedEntry, len(entries))
	for _, e := range entries {
		byKey[chunkKey(e.chunk.DocumentID, e.chunk.ChunkIndex)] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		ei := byKey[chunkKey(out[i].DocumentID, out[i].ChunkIndex)]
		ej := byKey[chunkKey(out[j].DocumentID, out[j].ChunkIndex)]
		if ei.score != ej.score {
			return ei.score > ej.score
		}
		if ei.vecScore != ej.vecScore {
			return ei.vecScore > ej.vecScore
		}
		return out[i].DocumentID < out[j].DocumentID
	})
}

// FullTextShortcut reconstructs a document's full text by reading its
// chunks from the text index ordered by chunk_index and concatenating
// them, used when a document's
// chunk count is at or below FullTextThreshold.
func (r *Retriever) FullTextShortcut(ctx context.Context, docID string) (string, error) {
	parts, err := r.text.OrderedChunkText(ctx, docID)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "\n\n"), nil
}

// ChunkCount reports how many chunks a document has, used by callers
// deciding between the full-text shortcut and a scoped hybrid search
//.
func (r *Retriever) ChunkCount(ctx context.Context, docID string) (int, error) {
	return r.text.ChunkCount(ctx, docID)
}
