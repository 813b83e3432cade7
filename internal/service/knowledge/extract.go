package knowledge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrEmptyDocument is returned when a document holds no readable text.
var ErrEmptyDocument = errors.New("document has no readable text")

type readFunc func(path string) (string, error)

var readers = map[string]readFunc{
	".txt": readPlain,
	".md":  readPlain,
	".pdf": readPDF,
}

// ExtractText reads the reference document as raw text. Layout is cleaned up by the Splitter.
func ExtractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := readers[ext]
	if !ok {
		return "", fmt.Errorf("unsupported document type %q", ext)
	}

	text, err := read(path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func readPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(raw), nil
}

func readPDF(path string) (string, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, doc.NumPage())
	for n := 1; n <= doc.NumPage(); n++ {
		page := doc.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger().Debugw("skip unreadable pdf page", "page", n, "err", err)
			continue
		}
		pages = append(pages, text)
	}
	// Blank line between pages keeps page breaks as paragraph breaks.
	return strings.Join(pages, "\n\n"), nil
}
