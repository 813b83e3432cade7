package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"strings"
)

// DefaultMaxBytes bounds a decoded capture.
const DefaultMaxBytes = 5 << 20

var (
	ErrInvalidImage     = errors.New("invalid image data uri")
	ErrUnsupportedMedia = errors.New("unsupported image media type")
	ErrEmptyImage       = errors.New("image payload is empty")
	ErrImageTooLarge    = errors.New("image payload exceeds size limit")
)

var supportedMedia = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/webp": "webp",
}

// Image is a decoded capture of a chart.
type Image struct {
	MediaType string
	Bytes     []byte
	Width     int
	Height    int
}

// Format returns the short format name, e.g. "png".
func (i Image) Format() string {
	return supportedMedia[i.MediaType]
}

// DataURI renders the image in the base64 data URI form sent to the model.
func (i Image) DataURI() string {
	return EncodeDataURI(i.MediaType, i.Bytes)
}

// Parser validates data URIs produced by the front-end rasteriser.
type Parser struct {
	MaxBytes int
}

// NewParser returns a parser enforcing maxBytes, or DefaultMaxBytes when maxBytes <= 0.
func NewParser(maxBytes int) Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Parser{MaxBytes: maxBytes}
}

// Parse decodes a "data:<media>;base64,<payload>" string.
func (p Parser) Parse(s string) (Image, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing data scheme", ErrInvalidImage)
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload separator", ErrInvalidImage)
	}

	mediaType, encoding, _ := strings.Cut(header, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if encoding != "base64" {
		return Image{}, fmt.Errorf("%w: payload must be base64 encoded", ErrInvalidImage)
	}
	if _, ok := supportedMedia[mediaType]; !ok {
		return Image{}, fmt.Errorf("%w: %q", ErrUnsupportedMedia, mediaType)
	}
	if payload == "" {
		return Image{}, ErrEmptyImage
	}

	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > limit+2 {
		return Image{}, ErrImageTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	if len(data) > limit {
		return Image{}, ErrImageTooLarge
	}

	return decode(mediaType, data)
}

// EncodeDataURI renders bytes as a base64 data URI.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// EncodeFile reads an image file and returns the parsed capture.
func EncodeFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return FromBytes(data)
}

// FromBytes sniffs the media type of raw bytes, e.g. a chat attachment.
func FromBytes(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	mediaType := http.DetectContentType(data)
	if _, ok := supportedMedia[mediaType]; !ok {
		return Image{}, fmt.Errorf("%w: %q", ErrUnsupportedMedia, mediaType)
	}
	return decode(mediaType, data)
}

func decode(mediaType string, data []byte) (Image, error) {
	img := Image{MediaType: mediaType, Bytes: data}
	// webp has no decoder in the standard library; the model validates it.
	if mediaType == "image/webp" {
		return img, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	img.Width = cfg.Width
	img.Height = cfg.Height
	return img, nil
}
