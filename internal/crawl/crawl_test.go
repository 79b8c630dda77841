package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateURLRejectsNonHTTPScheme(t *testing.T) {
	_, err := validateURL("ftp://example.com/file", false)
	require.Error(t, err)
}

func TestValidateURLRefusesLoopbackInProduction(t *testing.T) {
	_, err := validateURL("http://127.0.0.1/admin", true)
	require.Error(t, err)
}

func TestValidateURLAcceptsLoopbackOutsideProduction(t *testing.T) {
	u, err := validateURL("http://127.0.0.1/admin", false)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", u.Hostname())
}

func TestValidateURLRefusesPrivateRangeInProduction(t *testing.T) {
	_, err := validateURL("http://192.168.1.5/", true)
	require.Error(t, err)
}

func TestValidateURLAllowsPublicHostInProduction(t *testing.T) {
	u, err := validateURL("https://example.com/a", true)
	require.NoError(t, err)
	require.Equal(t, "example.com", u.Hostname())
}

func TestLooksJavaScriptRequiredDetectsThinBodyManyScripts(t *testing.T) {
	body := []byte("<html><body><div id=\"root\"></div>" +
		"<script></script><script></script><script></script><script></script><script></script>" +
		"<script></script><script></script><script></script><script></script><script></script>" +
		"</body></html>")
	require.True(t, looksJavaScriptRequired(body))
}

func TestLooksJavaScriptRequiredFalseForNormalArticle(t *testing.T) {
	body := []byte("<html><body><article><h1>Title</h1><p>" +
		"A long article body with plenty of readable prose that should not be mistaken " +
		"for a javascript shell application because it carries real text content.</p></article></body></html>")
	require.False(t, looksJavaScriptRequired(body))
}

func TestStripTagsRemovesScriptAndStyle(t *testing.T) {
	out := stripTags(`<div>hello<script>evil()</script><style>.a{}</style> world</div>`)
	require.Contains(t, out, "hello")
	require.Contains(t, out, "world")
	require.NotContains(t, out, "evil()")
}

func TestCanonicalURLFallsBackToFinalURL(t *testing.T) {
	got := canonicalURL("<html><head></head></html>", "https://example.com/page")
	require.Equal(t, "https://example.com/page", got)
}

func TestCanonicalURLExtractsLinkTag(t *testing.T) {
	html := `<html><head><link rel="canonical" href="https://example.com/real"></head></html>`
	got := canonicalURL(html, "https://example.com/page")
	require.Equal(t, "https://example.com/real", got)
}

func TestMetaContentExtractsOpenGraphImage(t *testing.T) {
	html := `<html><head><meta property="og:image" content="https://example.com/img.png"></head></html>`
	require.Equal(t, "https://example.com/img.png", metaContent(html, "og:image"))
}

func TestBaseOriginComputesSchemeAndHost(t *testing.T) {
	require.Equal(t, "https://example.com", baseOrigin("https://example.com/a/b?c=1"))
}

func TestBaseOriginEmptyForMalformed(t *testing.T) {
	require.Equal(t, "", baseOrigin("not a url"))
}
