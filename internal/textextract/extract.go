// Package textextract implements format-dispatched text extraction from
// uploaded bytes: a fast page-by-page PDF path with an OCR fallback, plus
// DOCX, RTF, and latin-1 plain-text handling.
package textextract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"politicalassistant/internal/apperr"
)

// Method names the extraction path actually used for a PDF.
type Method string

const (
	MethodDirect Method = "direct"
	MethodOCR    Method = "ocr"
)

// Stats reports per-extraction statistics.
type Stats struct {
	Method            Method
	PagesProcessed    int
	TimingMS          int64
	PagesWithDirect   int
	PagesWithOCR      int
}

// Result is the output of Extract: plain text plus extraction statistics.
type Result struct {
	Text  string
	Stats Stats
}

// Options tunes extraction behavior.
type Options struct {
	// PageCap bounds how many PDF pages are processed.
	PageCap int
	// ParseabilityThreshold decides fast-path vs OCR-path for PDFs.
	ParseabilityThreshold float64
	// SampleFraction controls how many pages are sampled to compute the
	// parseability score; 1.0 samples every page.
	SampleFraction float64
	// OCR performs OCR on a rasterized page image. Required for the OCR
	// fallback path; when nil, OCR is skipped and a "no text" failure is
	// reported for unparseable PDFs.
	OCR OCRFunc
	// Rasterize converts a PDF page to an image for OCR. Required together
	// with OCR.
	Rasterize RasterizeFunc
	// DirectBatchSize bounds how many pages are extracted concurrently on
	// the fast path.
	DirectBatchSize int
}

// OCRFunc runs OCR on a rasterized page image and returns recognized text.
// Implementations typically bind a Tesseract engine (e.g. gosseract) behind
// this narrow interface so the C-library dependency stays optional.
type OCRFunc func(ctx context.Context, image []byte) (string, error)

// RasterizeFunc renders page N (1-indexed) of a PDF to an image (e.g. PNG).
type RasterizeFunc func(ctx context.Context, pdfBytes []byte, page int) ([]byte, error)

func defaultOptions() Options {
	return Options{
		PageCap:               1000,
		ParseabilityThreshold: 0.8,
		SampleFraction:        0.2,
		DirectBatchSize:       4,
	}
}

// Extract dispatches by filename extension.
func Extract(ctx context.Context, data []byte, filename string, opts Options) (Result, error) {
	if opts.PageCap <= 0 {
		def := defaultOptions()
		opts.PageCap = def.PageCap
	}
	if opts.ParseabilityThreshold == 0 {
		opts.ParseabilityThreshold = defaultOptions().ParseabilityThreshold
	}
	if opts.SampleFraction == 0 {
		opts.SampleFraction = defaultOptions().SampleFraction
	}
	if opts.DirectBatchSize <= 0 {
		opts.DirectBatchSize = defaultOptions().DirectBatchSize
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return extractPDF(ctx, data, opts)
	case ".docx":
		return extractDOCX(data)
	case ".txt", ".md":
		return extractPlainText(data), nil
	case ".rtf":
		return extractRTF(data), nil
	default:
		return Result{}, apperr.New(apperr.Permanent, "textextract", fmt.Sprintf("unsupported extension %q", ext), nil)
	}
}

// ---- PDF ----

func extractPDF(ctx context.Context, data []byte, opts Options) (Result, error) {
	start := time.Now()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, apperr.New(apperr.Permanent, "textextract", "open pdf", err)
	}
	numPages := reader.NumPage()
	if numPages > opts.PageCap {
		numPages = opts.PageCap
	}

	score, sampleErr := parseabilityScore(reader, numPages, opts.SampleFraction)
	_ = sampleErr // a failed sample degrades to OCR, never aborts

	if score >= opts.ParseabilityThreshold {
		text, pagesDirect, err := extractDirect(reader, numPages, opts.DirectBatchSize)
		if err == nil && strings.TrimSpace(text) != "" {
			return Result{
				Text: text,
				Stats: Stats{
					Method:          MethodDirect,
					PagesProcessed:  numPages,
					TimingMS:        time.Since(start).Milliseconds(),
					PagesWithDirect: pagesDirect,
				},
			}, nil
		}
	}

	if opts.OCR == nil || opts.Rasterize == nil {
		return Result{}, apperr.New(apperr.Permanent, "textextract", "no text: pdf requires OCR but none configured", nil)
	}
	text, pagesDirect, pagesOCR, err := extractWithOCR(ctx, reader, data, numPages, opts)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, apperr.New(apperr.Permanent, "textextract", "no text", nil)
	}
	return Result{
		Text: text,
		Stats: Stats{
			Method:          MethodOCR,
			PagesProcessed:  numPages,
			TimingMS:        time.Since(start).Milliseconds(),
			PagesWithDirect: pagesDirect,
			PagesWithOCR:    pagesOCR,
		},
	}, nil
}

// parseabilityScore estimates how well a PDF yields text without OCR: a
// blend of text density (chars per sampled page) and success rate (pages
// returning >= 20 chars).
func parseabilityScore(reader *pdf.Reader, numPages int, sampleFraction float64) (float64, error) {
	if numPages == 0 {
		return 0, nil
	}
	step := int(1 / clamp01(sampleFraction, 0.05, 1))
	if step < 1 {
		step = 1
	}
	var sampled, succeeded, totalChars int
	for i := 1; i <= numPages; i += step {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		sampled++
		if err != nil {
			continue
		}
		n := utf8.RuneCountInString(strings.TrimSpace(text))
		totalChars += n
		if n >= 20 {
			succeeded++
		}
	}
	if sampled == 0 {
		return 0, nil
	}
	density := float64(totalChars) / float64(sampled)
	// Normalize density against an empirically reasonable "page full of
	// text" baseline of ~1500 characters.
	densityScore := clamp01(density/1500, 0, 1)
	successRate := float64(succeeded) / float64(sampled)
	return (densityScore + successRate) / 2, nil
}

func clamp01(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// extractDirect pulls text page by page, in parallel batches, emitting
// "## Seite N" section headers.
func extractDirect(reader *pdf.Reader, numPages, batchSize int) (string, int, error) {
	type pageResult struct {
		idx  int
		text string
		ok   bool
	}
	results := make([]pageResult, numPages)
	var wg sync.WaitGroup
	sem := make(chan struct{}, batchSize)
	for i := 1; i <= numPages; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(pageNum int) {
			defer wg.Done()
			defer func() { <-sem }()
			page := reader.Page(pageNum)
			if page.V.IsNull() {
				return
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return
			}
			results[pageNum-1] = pageResult{idx: pageNum, text: text, ok: true}
		}(i)
	}
	wg.Wait()

	var sb strings.Builder
	pagesWithText := 0
	for i, r := range results {
		pageNum := i + 1
		sb.WriteString("## Seite ")
		sb.WriteString(strconv.Itoa(pageNum))
		sb.WriteString("\n\n")
		if r.ok && strings.TrimSpace(r.text) != "" {
			pagesWithText++
			sb.WriteString(strings.TrimSpace(r.text))
		}
		sb.WriteString("\n\n")
	}
	return sb.String(), pagesWithText, nil
}

// extractWithOCR rasterizes each page and OCRs it, keeping direct-text
// portions where the fast path already found something.
func extractWithOCR(ctx context.Context, reader *pdf.Reader, pdfBytes []byte, numPages int, opts Options) (string, int, int, error) {
	var sb strings.Builder
	pagesDirect, pagesOCR := 0, 0
	for i := 1; i <= numPages; i++ {
		sb.WriteString("## Seite ")
		sb.WriteString(strconv.Itoa(i))
		sb.WriteString("\n\n")

		page := reader.Page(i)
		var direct string
		if !page.V.IsNull() {
			if t, err := page.GetPlainText(nil); err == nil {
				direct = strings.TrimSpace(t)
			}
		}
		if direct != "" {
			pagesDirect++
			sb.WriteString(direct)
			sb.WriteString("\n\n")
			continue
		}

		img, err := opts.Rasterize(ctx, pdfBytes, i)
		if err != nil {
			continue
		}
		text, err := opts.OCR(ctx, img)
		if err != nil {
			continue
		}
		text = markdownPass(text)
		if strings.TrimSpace(text) != "" {
			pagesOCR++
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}
	return sb.String(), pagesDirect, pagesOCR, nil
}

var (
	allCapsHeading = regexp.MustCompile(`^[A-ZÄÖÜ0-9 .,:;'"()\-]{4,60}$`)
	numberedLead   = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+\S`)
	multiSpace     = regexp.MustCompile(`[ \t]+`)
)

// markdownPass applies a light heuristic markdown pass to raw OCR text: all-
// caps short lines, trailing colons, or numbered leads become headings, and
// whitespace is collapsed.
func markdownPass(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(multiSpace.ReplaceAllString(line, " "))
		if trimmed == "" {
			continue
		}
		switch {
		case strings.HasSuffix(trimmed, ":") && len(trimmed) <= 80:
			out = append(out, "### "+strings.TrimSuffix(trimmed, ":"))
		case allCapsHeading.MatchString(trimmed) && strings.ToUpper(trimmed) == trimmed:
			out = append(out, "## "+trimmed)
		case numberedLead.MatchString(trimmed) && len(trimmed) <= 80:
			out = append(out, "### "+trimmed)
		default:
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// ---- DOCX ----

func extractDOCX(data []byte) (Result, error) {
	// nguyenthenguyen/docx reads from a *os.File handle (it seeks into the
	// underlying zip archive), so a .docx upload is staged to a temp file
	// rather than wrapped in an in-memory reader.
	tmp, err := os.CreateTemp("", "upload-*.docx")
	if err != nil {
		return Result{}, apperr.New(apperr.Transient, "textextract", "stage docx temp file", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return Result{}, apperr.New(apperr.Transient, "textextract", "write docx temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return Result{}, apperr.New(apperr.Transient, "textextract", "sync docx temp file", err)
	}

	r, err := docx.ReadDocxFile(tmp.Name())
	if err != nil {
		return Result{}, apperr.New(apperr.Permanent, "textextract", "open docx", err)
	}
	defer r.Close()
	content := r.Editable().GetContent()
	text := stripSimpleXMLLikeArtifacts(content)
	return Result{Text: text, Stats: Stats{Method: MethodDirect, PagesProcessed: 1}}, nil
}

var (
	docxParagraphBreak = regexp.MustCompile(`</w:p>`)
	docxTextRun        = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
)

// stripSimpleXMLLikeArtifacts pulls the plain text out of a WordprocessingML
// document.xml body: GetContent returns the raw XML the replace-docx library
// edits in place, so paragraph and text-run markers are used to recover
// readable text and line breaks.
func stripSimpleXMLLikeArtifacts(s string) string {
	var sb strings.Builder
	for _, para := range docxParagraphBreak.Split(s, -1) {
		matches := docxTextRun.FindAllStringSubmatch(para, -1)
		if len(matches) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		for _, m := range matches {
			sb.WriteString(m[1])
		}
	}
	if sb.Len() > 0 {
		return strings.TrimSpace(sb.String())
	}
	return strings.TrimSpace(s)
}

// ---- TXT/MD ----

func extractPlainText(data []byte) Result {
	text := string(data)
	if strings.ContainsRune(text, utf8.RuneError) {
		text = latin1ToUTF8(data)
	}
	return Result{Text: text, Stats: Stats{Method: MethodDirect, PagesProcessed: 1}}
}

// latin1ToUTF8 reinterprets bytes as Latin-1 (ISO-8859-1), where every byte
// maps 1:1 to a Unicode code point, used when the UTF-8 decode produced
// replacement characters.
func latin1ToUTF8(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

// ---- RTF ----

var (
	rtfControlWord = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfControlSym  = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
)

// extractRTF strips control words and braces, a minimal approach since no
// RTF library appears anywhere in the retrieval pack (see DESIGN.md).
func extractRTF(data []byte) Result {
	s := string(data)
	s = rtfControlSym.ReplaceAllString(s, "")
	s = rtfControlWord.ReplaceAllString(s, "")
	s = strings.NewReplacer("{", "", "}", "", "\\par", "\n", "\\par}", "\n").Replace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	return Result{Text: strings.TrimSpace(s), Stats: Stats{Method: MethodDirect, PagesProcessed: 1}}
}
