// Package tokens estimates how many model tokens a piece of text costs.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// Estimator counts tokens for stored messages.
type Estimator interface {
	Count(text string) int
}

// Tiktoken uses a BPE encoding when it can be loaded and falls back to a
// character heuristic otherwise. The encoding is loaded on first use since
// tiktoken-go may need to fetch it.
type Tiktoken struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

// Warm loads the encoding now and reports why it is unavailable, if it is.
func (t *Tiktoken) Warm() error {
	t.load()
	return t.err
}

func (t *Tiktoken) load() {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	})
}

func (t *Tiktoken) Count(text string) int {
	t.load()
	if t.err != nil || t.enc == nil {
		return Heuristic{}.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Err reports why the BPE encoding is unavailable, if it is.
func (t *Tiktoken) Err() error {
	return t.err
}

// Heuristic assumes roughly four characters per token.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
