package knowledge

import (
	"strings"

	"github.com/zhouzirui/mempool-lens/backend/internal/tokens"
)

// Splitter cuts text into overlapping token windows.
type Splitter struct {
	tok     tokens.Tokenizer
	size    int
	overlap int
}

// NewSplitter returns a splitter; overlap is clamped below size.
func NewSplitter(tok tokens.Tokenizer, size, overlap int) *Splitter {
	if size <= 0 {
		size = 400
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Splitter{tok: tok, size: size, overlap: overlap}
}

// Split tidies the layout of text and returns its non-empty chunks in document order.
func (s *Splitter) Split(text string) []string {
	pieces := s.tok.Split(tidy(text))
	if len(pieces) == 0 {
		return nil
	}

	step := s.size - s.overlap
	var chunks []string
	for start := 0; start < len(pieces); start += step {
		end := min(start+s.size, len(pieces))
		chunk := strings.TrimSpace(strings.ToValidUTF8(strings.Join(pieces[start:end], ""), ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(pieces) {
			break
		}
	}
	return chunks
}

// tidy trims every line, unifies line endings and keeps at most one blank line
// between paragraphs.
func tidy(text string) string {
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(text)

	var paragraphs []string
	var current []string
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line != "" {
			current = append(current, line)
			continue
		}
		if len(current) > 0 {
			paragraphs = append(paragraphs, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
	}
	return strings.Join(paragraphs, "\n\n")
}
