package hybridretriever

import (
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/docstore"
)

func TestDynamicThresholdUsesRelativeGapWithFloor(t *testing.T) {
	hits := []docstore.VectorHit{{Score: 0.9}, {Score: 0.7}, {Score: 0.5}}
	got := dynamicThreshold(hits)
	require.InDelta(t, 0.675, got, 1e-9)
}

func TestDynamicThresholdAppliesAbsoluteFloor(t *testing.T) {
	hits := []docstore.VectorHit{{Score: 0.1}}
	got := dynamicThreshold(hits)
	require.Equal(t, 0.15, got)
}

func TestFuseCombinesVectorAndTextByRRF(t *testing.T) {
	vec := []docstore.VectorHit{
		{DocID: "d1", ChunkIndex: 0, Score: 0.9},
		{DocID: "d2", ChunkIndex: 0, Score: 0.8},
	}
	txt := []docstore.TextHit{
		{DocID: "d2", ChunkIndex: 0, Score: 5},
		{DocID: "d3", ChunkIndex: 0, Score: 4},
	}
	out := fuse(vec, txt, Options{VectorWeight: 0.7, TextWeight: 0.3, Limit: 10})
	require.Len(t, out, 3)
	// d2 appears in both branches (rank 2 vector, rank 1 text) so should
	// score highest.
	require.Equal(t, "d2", out[0].DocumentID)
	require.Equal(t, "vector+text", out[0].RelevanceInfo)
}

func TestFuseRespectsLimit(t *testing.T) {
	vec := []docstore.VectorHit{{DocID: "d1", Score: 0.9}, {DocID: "d2", Score: 0.8}, {DocID: "d3", Score: 0.7}}
	out := fuse(vec, nil, Options{VectorWeight: 0.7, TextWeight: 0.3, Limit: 2})
	require.Len(t, out, 2)
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	require.Equal(t, ModeHybrid, o.Mode)
	require.Equal(t, 10, o.Limit)
	require.Equal(t, 0.7, o.VectorWeight)
	require.Equal(t, 0.3, o.TextWeight)
}

func TestItoaRoundTrip(t *testing.T) {
	require.Equal(t, "0", itoa(0))
	require.Equal(t, "42", itoa(42))
	require.Equal(t, "-7", itoa(-7))
}
