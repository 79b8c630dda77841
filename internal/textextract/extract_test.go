package textextract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	res, err := Extract(context.Background(), []byte("hello world\n"), "notes.txt", Options{})
	require.NoError(t, err)
	require.Equal(t, "hello world\n", res.Text)
	require.Equal(t, MethodDirect, res.Stats.Method)
}

func TestExtractMarkdown(t *testing.T) {
	res, err := Extract(context.Background(), []byte("# Title\n\nbody"), "doc.md", Options{})
	require.NoError(t, err)
	require.Contains(t, res.Text, "# Title")
}

func TestExtractUnsupportedExtension(t *testing.T) {
	_, err := Extract(context.Background(), []byte("data"), "file.xyz", Options{})
	require.Error(t, err)
}

func TestExtractRTFStripsControlWords(t *testing.T) {
	rtf := []byte(`{\rtf1\ansi\deff0 {\fonttbl{\f0 Times New Roman;}}\f0 Hello, \b world\b0 !\par}`)
	res := extractRTF(rtf)
	require.Contains(t, res.Text, "Hello,")
	require.Contains(t, res.Text, "world")
	require.NotContains(t, res.Text, `\b`)
}

func TestMarkdownPassHeadingHeuristics(t *testing.T) {
	out := markdownPass("INTRODUCTION\nBackground:\n1. First point\nplain sentence continues")
	require.Contains(t, out, "## INTRODUCTION")
	require.Contains(t, out, "### Background")
	require.Contains(t, out, "### 1. First point")
	require.Contains(t, out, "plain sentence continues")
}

func TestParseabilityScoreEmptyDocument(t *testing.T) {
	score, err := parseabilityScore(nil, 0, 0.2)
	require.NoError(t, err)
	require.Equal(t, 0.0, score)
}
