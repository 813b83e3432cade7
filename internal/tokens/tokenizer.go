// Package tokens counts and splits text in model tokens.
package tokens

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const defaultEncoding = "cl100k_base"

// Tokenizer splits text into pieces whose concatenation is the original text.
type Tokenizer interface {
	Split(text string) []string
	Count(text string) int
}

// New returns a tiktoken tokenizer for the model, falling back to cl100k_base
// and then to a word estimate when no encoding can be loaded.
func New(model string) Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
	}
	if err != nil {
		zap.S().Warnw("tiktoken unavailable, using word estimate", "model", model, "err", err)
		return Approx{}
	}
	return &Tiktoken{enc: enc}
}

// Tiktoken uses BPE encodings.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func (t *Tiktoken) Split(text string) []string {
	ids := t.enc.Encode(text, nil, nil)
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i] = t.enc.Decode([]int{id})
	}
	return pieces
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

var wordPattern = regexp.MustCompile(`\s*\S+\s*`)

// Approx treats every whitespace separated word as one token.
type Approx struct{}

func (Approx) Split(text string) []string {
	pieces := wordPattern.FindAllString(text, -1)
	if len(pieces) == 0 && strings.TrimSpace(text) != "" {
		return []string{text}
	}
	return pieces
}

func (a Approx) Count(text string) int {
	return len(strings.Fields(text))
}
