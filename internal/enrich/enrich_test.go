package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"politicalassistant/internal/docstore"
)

func TestDetectURLsCapsAtThree(t *testing.T) {
	body := "see https://a.example and https://b.example also https://c.example and https://d.example"
	got := detectURLs(body, nil, nil)
	require.Len(t, got, 3)
}

func TestDetectURLsExcludesAlreadyAttached(t *testing.T) {
	body := "see https://a.example and https://b.example"
	got := detectURLs(body, nil, []string{"https://a.example"})
	require.Equal(t, []string{"https://b.example"}, got)
}

func TestDetectURLsIncludesAttachmentURLs(t *testing.T) {
	got := detectURLs("no urls here", []string{"https://attached.example"}, nil)
	require.Equal(t, []string{"https://attached.example"}, got)
}

func TestContentTypeTagMapsKnownExtensions(t *testing.T) {
	require.Equal(t, "application/pdf", contentTypeTag("report.PDF"))
	require.Equal(t, "text/plain", contentTypeTag("notes.txt"))
}

func TestEstimatePagesRoughHeuristic(t *testing.T) {
	require.Equal(t, 1, estimatePages(100))
	require.Equal(t, 2, estimatePages(6000))
	require.Equal(t, 0, estimatePages(0))
}

type fakeDocs struct {
	chunkCount int
	fullText   string
}

func (f fakeDocs) ChunkCount(_ context.Context, _ string) (int, error) { return f.chunkCount, nil }
func (f fakeDocs) FullText(_ context.Context, _ string) (string, error) { return f.fullText, nil }
func (f fakeDocs) Metadata(_ context.Context, _, docID string) (docstore.Document, error) {
	return docstore.Document{ID: docID, Title: "Haushaltsplan", Filename: "haushalt.pdf", FileSize: 9000}, nil
}

type failingSavedText struct{}

func (failingSavedText) GetText(_ context.Context, _, _ string) (string, string, error) {
	return "", "", errors.New("row not found")
}

func TestEnrichSmallDocumentIncludesFullText(t *testing.T) {
	e := &Enricher{Docs: fakeDocs{chunkCount: 3, fullText: "Abschnitt eins.\n\nAbschnitt zwei."}}
	state := e.Enrich(context.Background(), Request{
		Owner:          "owner-1",
		MessageBody:    "Was steht im Haushaltsplan?",
		SelectedDocIDs: []string{"doc-1"},
	})
	require.Len(t, state.Documents, 1)
	require.Equal(t, "Abschnitt eins.\n\nAbschnitt zwei.", state.Documents[0].FullText)
	require.Equal(t, "application/pdf", state.Documents[0].ContentType)
	require.Equal(t, 4, state.Documents[0].WordCount)
	require.Empty(t, state.Errors)
}

func TestEnrichBranchFailureDegradesOnlyThatBranch(t *testing.T) {
	e := &Enricher{
		Docs:      fakeDocs{chunkCount: 2, fullText: "Inhalt."},
		SavedText: failingSavedText{},
	}
	state := e.Enrich(context.Background(), Request{
		Owner:           "owner-1",
		MessageBody:     "Frage ohne URLs",
		SelectedDocIDs:  []string{"doc-1"},
		SelectedTextIDs: []string{"text-1"},
	})
	require.Len(t, state.Documents, 1, "document branch must survive the saved-text failure")
	require.Empty(t, state.Knowledge)
	require.Len(t, state.Errors, 1)
	require.Contains(t, state.Errors[0], "saved text lookup failed")
}
