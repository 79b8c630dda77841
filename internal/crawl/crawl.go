// Package crawl implements the web crawler: plain HTTP fetch with a
// headless-browser fallback, main-content extraction, and HTML-to-Markdown
// conversion.
package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"politicalassistant/internal/apperr"
	"politicalassistant/internal/config"
)

// Options tunes a single crawl call.
type Options struct {
	Timeout         time.Duration
	HeadlessTimeout time.Duration
	MaxContentBytes int64
	UserAgent       string
	Production      bool
	// EnhancedMetadata additionally extracts Open-Graph image, dimensions,
	// and category hints.
	EnhancedMetadata bool
}

// OptionsFromConfig derives crawl Options for a single call from the
// process-wide crawler config.
func OptionsFromConfig(c config.CrawlerConfig) Options {
	return Options{
		Timeout:         c.FetchTimeout,
		HeadlessTimeout: c.HeadlessTimeout,
		MaxContentBytes: c.MaxContentBytes,
		UserAgent:       c.UserAgent,
		Production:      c.Production,
	}
}

// Result is the normalized crawl outcome.
type Result struct {
	Success       bool
	Content       string
	Markdown      string
	Title         string
	Description   string
	Canonical     string
	PublishedDate string
	WordCount     int
	CharCount     int
	FinalURL      string
	StatusCode    int
	OGImage       string
	OGCategory    string
	Error         string
	UsedHeadless  bool
}

var privateNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// validateURL enforces http/https and, in production mode, refuses loopback
// and RFC-1918 targets; outside production those are accepted.
func validateURL(raw string, production bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "crawl", "malformed url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(apperr.InvalidInput, "crawl", "unsupported url scheme: "+u.Scheme, nil)
	}
	if u.Host == "" {
		return nil, apperr.New(apperr.InvalidInput, "crawl", "missing host", nil)
	}
	if !production {
		return u, nil
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return nil, apperr.New(apperr.InvalidInput, "crawl", "refusing loopback target in production mode", nil)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range privateNetworks {
			if n.Contains(ip) {
				return nil, apperr.New(apperr.InvalidInput, "crawl", "refusing private/loopback target in production mode", nil)
			}
		}
	}
	return u, nil
}

// Crawler fetches and normalizes web pages, falling back to a headless
// browser when the plain fetch looks JavaScript-required or bot-blocked.
type Crawler struct {
	client *http.Client
	sem    chan struct{}
}

// New constructs a Crawler bounded to maxConcurrency simultaneous in-flight
// crawls.
func New(maxConcurrency int) *Crawler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Crawler{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 10,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 8 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		sem: make(chan struct{}, maxConcurrency),
	}
}

// Crawl fetches a single URL and returns a normalized Result. It never
// returns a non-nil error for crawl-level failures (timeouts, bot blocks,
// etc) -- those are reported via Result.Success=false/Result.Error;
// a non-nil error return means the request was not attempted at all
// (e.g. invalid URL or a cancelled context).
func (c *Crawler) Crawl(ctx context.Context, target string, opts Options) (Result, error) {
	u, err := validateURL(target, opts.Production)
	if err != nil {
		return Result{}, err
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return Result{}, apperr.New(apperr.Cancelled, "crawl", "context cancelled waiting for crawl slot", ctx.Err())
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, body, needsHeadless := c.plainFetch(fetchCtx, u.String(), opts)
	if needsHeadless {
		headlessTimeout := opts.HeadlessTimeout
		if headlessTimeout <= 0 {
			headlessTimeout = 20 * time.Second
		}
		hctx, hcancel := context.WithTimeout(ctx, headlessTimeout)
		hres := c.headlessFetch(hctx, u.String(), opts)
		hcancel()
		if hres.Success {
			return hres, nil
		}
		if res.Success {
			return res, nil
		}
		return hres, nil
	}
	if !res.Success {
		return res, nil
	}

	return c.finish(res, body, u.String(), opts)
}

// plainFetch performs the first-attempt plain HTTP fetch and signals whether
// the content looks JavaScript-required or bot-blocked, in which case the
// caller should retry with a headless browser.
func (c *Crawler) plainFetch(ctx context.Context, target string, opts Options) (Result, []byte, bool) {
	res := Result{FinalURL: target}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res.Error = "request construction failed: " + err.Error()
		return res, nil, false
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "et-bot"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "timeout"
		} else if dnsErr, ok := asDNSError(err); ok {
			res.Error = "dns failure: " + dnsErr.Error()
		} else {
			res.Error = "protocol error: " + err.Error()
		}
		return res, nil, false
	}
	defer resp.Body.Close()

	res.FinalURL = resp.Request.URL.String()
	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 400 {
		res.Error = fmt.Sprintf("http status %d", resp.StatusCode)
		// Several anti-bot services answer 403/429 with a challenge page;
		// treat those as a signal to retry headless.
		return res, nil, resp.StatusCode == 403 || resp.StatusCode == 429
	}

	header := resp.Header.Get("Content-Type")
	ct := contentType(header)
	if ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		res.Error = "non-html content-type: " + ct
		return res, nil, false
	}

	maxBytes := opts.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		res.Error = "read failed: " + err.Error()
		return res, nil, false
	}
	if int64(len(body)) > maxBytes {
		res.Error = "content exceeds size limit"
		return res, nil, false
	}

	body, err = toUTF8(body, charsetLabel(header))
	if err != nil {
		res.Error = "charset decode failed: " + err.Error()
		return res, nil, false
	}

	if looksJavaScriptRequired(body) {
		return res, body, true
	}

	res.Success = true
	return res, body, false
}

// looksJavaScriptRequired detects the "very thin body + many scripts"
// marker pattern of client-side-rendered pages.
func looksJavaScriptRequired(body []byte) bool {
	lower := bytes.ToLower(body)
	scriptCount := bytes.Count(lower, []byte("<script"))
	visibleLen := len(stripTags(string(body)))
	if scriptCount >= 10 && visibleLen < 400 {
		return true
	}
	markers := []string{
		"please enable javascript",
		"requires javascript",
		"you need to enable javascript",
		"noscript",
	}
	for _, m := range markers {
		if bytes.Contains(lower, []byte(m)) && visibleLen < 1500 {
			return true
		}
	}
	return false
}

var tagRE = regexp.MustCompile(`(?is)<script.*?</script>|<style.*?</style>|<[^>]+>`)

func stripTags(html string) string {
	return strings.TrimSpace(tagRE.ReplaceAllString(html, " "))
}

// headlessFetch retries via a headless browser.
func (c *Crawler) headlessFetch(ctx context.Context, target string, opts Options) Result {
	res := Result{FinalURL: target, UsedHeadless: true}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "timeout"
		} else {
			res.Error = "bot-blocked or protocol error: " + err.Error()
		}
		return res
	}

	maxBytes := opts.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	if int64(len(html)) > maxBytes {
		res.Error = "content exceeds size limit"
		return res
	}

	res.Success = true
	res.StatusCode = 200
	final, finErr := finishFromHTML(html, target, opts)
	if finErr != nil {
		res.Success = false
		res.Error = finErr.Error()
		return res
	}
	final.UsedHeadless = true
	return final
}

// finish converts a successful plain-fetch body into the normalized Result.
func (c *Crawler) finish(res Result, body []byte, finalURL string, opts Options) (Result, error) {
	out, err := finishFromHTML(string(body), finalURL, opts)
	if err != nil {
		return Result{FinalURL: finalURL, StatusCode: res.StatusCode, Error: err.Error()}, nil
	}
	out.StatusCode = res.StatusCode
	if out.StatusCode == 0 {
		out.StatusCode = 200
	}
	return out, nil
}

func finishFromHTML(html, finalURL string, opts Options) (Result, error) {
	base, _ := url.Parse(finalURL)

	article, artErr := readability.FromReader(strings.NewReader(html), base)
	var contentHTML, title, description string
	usedReadable := false
	if artErr == nil && strings.TrimSpace(article.Content) != "" {
		contentHTML = article.Content
		title = strings.TrimSpace(article.Title)
		description = strings.TrimSpace(article.Excerpt)
		usedReadable = true
	} else {
		contentHTML = html
	}

	md, mdErr := htmltomarkdown.ConvertString(contentHTML, converter.WithDomain(baseOrigin(finalURL)))
	if mdErr != nil {
		return Result{}, fmt.Errorf("html to markdown conversion failed: %w", mdErr)
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}

	plain := stripTags(contentHTML)
	result := Result{
		Success:     true,
		Content:     plain,
		Markdown:    md,
		Title:       title,
		Description: description,
		Canonical:   canonicalURL(html, finalURL),
		FinalURL:    finalURL,
		WordCount:   len(strings.Fields(plain)),
		CharCount:   len(plain),
	}
	if !usedReadable && title == "" {
		result.Title = extractTagText(html, "title")
	}
	if opts.EnhancedMetadata {
		result.OGImage = metaContent(html, "og:image")
		result.OGCategory = metaContent(html, "article:section")
		if result.OGCategory == "" {
			result.OGCategory = metaContent(html, "og:type")
		}
		if pub := metaContent(html, "article:published_time"); pub != "" {
			result.PublishedDate = pub
		}
	}
	return result, nil
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

var titleRE = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
var canonicalRE = regexp.MustCompile(`(?is)<link[^>]+rel=["']canonical["'][^>]+href=["']([^"']+)["']`)

func metaContentRE(property string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<meta[^>]+(?:property|name)=["']` + regexp.QuoteMeta(property) + `["'][^>]+content=["']([^"']*)["']`)
}

func extractTagText(html, tag string) string {
	if tag == "title" {
		if m := titleRE.FindStringSubmatch(html); len(m) == 2 {
			return strings.TrimSpace(stripTags(m[1]))
		}
	}
	return ""
}

func canonicalURL(html, fallback string) string {
	if m := canonicalRE.FindStringSubmatch(html); len(m) == 2 {
		return m[1]
	}
	return fallback
}

func metaContent(html, property string) string {
	re := metaContentRE(property)
	if m := re.FindStringSubmatch(html); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func contentType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(header)
	}
	return strings.ToLower(mt)
}

// charsetLabel extracts the charset parameter from a Content-Type header.
func charsetLabel(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// toUTF8 re-encodes a non-UTF-8 response body using the
// golang.org/x/net/html/charset reader label lookup.
func toUTF8(body []byte, label string) ([]byte, error) {
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return body, nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func asDNSError(err error) (*net.DNSError, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr, true
	}
	return nil, false
}

// BatchCrawl runs crawls for multiple URLs concurrently, each bounded by the
// Crawler's own semaphore and by its own independent per-crawl timeout
//. Results preserve input order. Per-URL failures are recorded in the
// corresponding Result rather than aborting the batch, so the errgroup is
// used purely as a bounded worker pool (its Go funcs always return nil).
func (c *Crawler) BatchCrawl(ctx context.Context, targets []string, opts Options) []Result {
	results := make([]Result, len(targets))
	var g errgroup.Group
	g.SetLimit(cap(c.sem))
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			res, err := c.Crawl(ctx, t, opts)
			if err != nil {
				res = Result{Success: false, Error: err.Error(), FinalURL: t}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
