package ingestpipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/docstore"
	"politicalassistant/internal/textextract"
)

func TestExtractUsesManualTextDirectly(t *testing.T) {
	p := &Pipeline{}
	text, method, err := p.extract(nil, Source{Kind: docstore.SourceManualText, Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", text)
	require.Equal(t, textextract.MethodDirect, method)
}

func TestClaimRejectsConcurrentSameDocID(t *testing.T) {
	p := &Pipeline{inFlight: make(map[string]bool)}
	require.True(t, p.claim("doc-1"))
	require.False(t, p.claim("doc-1"))
	p.release("doc-1")
	require.True(t, p.claim("doc-1"))
}

func TestClaimAllowsDifferentDocIDs(t *testing.T) {
	p := &Pipeline{inFlight: make(map[string]bool)}
	require.True(t, p.claim("doc-1"))
	require.True(t, p.claim("doc-2"))
}
