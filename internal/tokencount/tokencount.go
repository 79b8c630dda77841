// Package tokencount counts tokens for chunk-budget checks, preferring an
// exact tiktoken encoding and falling back to a word-count heuristic when
// the encoding can't be loaded.
package tokencount

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a string.
type Counter interface {
	Count(text string) int
}

// tikTokenCounter counts tokens using the cl100k_base encoding (GPT-4/
// ChatGPT family), matching the encoding raggo defaults new chunkers to.
type tikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// wordCounter approximates token count by whitespace-splitting, used when
// the tiktoken encoding data can't be loaded (e.g. offline with no cached
// BPE ranks).
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (c *tikTokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// Default returns a process-wide Counter, built once: a tiktoken
// cl100k_base counter when available, otherwise the word-count fallback.
func Default() Counter {
	defaultOnce.Do(func() {
		defaultCounter = New("cl100k_base")
	})
	return defaultCounter
}

// New builds a Counter for the named tiktoken encoding (e.g. "cl100k_base",
// "p50k_base", "r50k_base"), falling back to a word-count heuristic if the
// encoding can't be loaded.
func New(encoding string) Counter {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return wordCounter{}
	}
	return &tikTokenCounter{tke: tke}
}
