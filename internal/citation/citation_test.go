package citation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/docstore"
)

func TestBuildReferenceMapDedupesByURL(t *testing.T) {
	candidates := []Candidate{
		{URL: "https://a.example", Title: "A"},
		{URL: "https://a.example", Title: "A duplicate"},
		{URL: "https://b.example", Title: "B"},
	}
	refs := BuildReferenceMap(candidates, Limits{})
	require.Len(t, refs, 2)
	require.Equal(t, "A", refs[1].Title)
	require.Equal(t, "B", refs[2].Title)
}

func TestBuildReferenceMapCapsPerDocument(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, Candidate{DocID: "doc-1", ChunkIndex: i, Title: "chunk"})
	}
	refs := BuildReferenceMap(candidates, Limits{LimitPerDoc: 2})
	require.Len(t, refs, 2)
}

func TestBuildReferenceMapCapsTotal(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 20; i++ {
		candidates = append(candidates, Candidate{URL: urlFor(i), Title: "x"})
	}
	refs := BuildReferenceMap(candidates, Limits{LimitPerDoc: 100, MaxTotal: 3})
	require.Len(t, refs, 3)
}

func urlFor(i int) string {
	return "https://example.com/" + string(rune('a'+i))
}

func TestValidateAndInjectStripsUnknownMarkers(t *testing.T) {
	refs := docstore.ReferenceMap{
		1: {NumericID: 1, Title: "Ref One"},
		2: {NumericID: 2, Title: "Ref Two"},
	}
	res := ValidateAndInject("A [1]. B [9]. C [2].", refs)
	require.Equal(t, "A [1]. B. C [2].", res.CleanDraft)
	require.Equal(t, []docstore.Citation{{MarkerID: 1, ReferenceID: 1}, {MarkerID: 2, ReferenceID: 2}}, res.Citations)
	require.Len(t, res.Sources, 2)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "9")
}

func TestValidateAndInjectHandlesGluedAdjacentMarkers(t *testing.T) {
	refs := docstore.ReferenceMap{1: {NumericID: 1}, 2: {NumericID: 2}}
	res := ValidateAndInject("fact[1][2] continues.", refs)
	require.Equal(t, "fact[1][2] continues.", res.CleanDraft)
	require.Len(t, res.Citations, 2)
	require.Empty(t, res.Errors)
}

func TestValidateAndInjectHandlesRepeatedMarker(t *testing.T) {
	refs := docstore.ReferenceMap{1: {NumericID: 1}}
	res := ValidateAndInject("A [1]. B [1].", refs)
	require.Len(t, res.Citations, 2)
	require.Len(t, res.Sources, 1)
}

func TestValidateAndInjectIdempotent(t *testing.T) {
	refs := docstore.ReferenceMap{
		1: {NumericID: 1, Title: "Ref One"},
		2: {NumericID: 2, Title: "Ref Two"},
	}
	first := ValidateAndInject("A [1]. B [9]. C [2].", refs)
	second := ValidateAndInject(first.CleanDraft, refs)
	require.Equal(t, first.CleanDraft, second.CleanDraft)
	require.Equal(t, first.Citations, second.Citations)
	require.Empty(t, second.Errors)
}

func TestValidateAndInjectZeroMarkersReturnsDraftUnchanged(t *testing.T) {
	refs := docstore.ReferenceMap{1: {NumericID: 1}}
	draft := "No citations here.  Even odd  spacing survives."
	res := ValidateAndInject(draft, refs)
	require.Equal(t, draft, res.CleanDraft)
	require.Empty(t, res.Citations)
	require.Empty(t, res.Sources)
	require.Empty(t, res.Errors)
}

func TestBuildReferenceMapIDsContiguousFromOne(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 7; i++ {
		candidates = append(candidates, Candidate{URL: urlFor(i), Title: "x"})
	}
	refs := BuildReferenceMap(candidates, Limits{LimitPerDoc: 100, MaxTotal: 5})
	require.Len(t, refs, 5)
	for id := 1; id <= 5; id++ {
		ref, ok := refs[id]
		require.True(t, ok, "missing id %d", id)
		require.Equal(t, id, ref.NumericID)
	}
}

func TestSummariseReferencesForPromptOrdersAscending(t *testing.T) {
	refs := docstore.ReferenceMap{
		2: {NumericID: 2, Title: "Second"},
		1: {NumericID: 1, Title: "First"},
	}
	out := SummariseReferencesForPrompt(refs)
	require.True(t, indexOf(out, "[1] First") < indexOf(out, "[2] Second"))
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
