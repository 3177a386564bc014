package documents

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageParser treats a standalone raster image as a one-page visual
// document with no text chunks: the image bytes pass straight through as
// the page, decoded only far enough to record dimensions via
// image.DecodeConfig's registered-format dispatch. TIFF, BMP and WebP
// register themselves the same way jpeg/png do, via their package init();
// a document search index doesn't need to re-encode what it's about to
// embed, so the original bytes are kept verbatim rather than normalized
// to PNG.
type ImageParser struct{}

func (p *ImageParser) SupportedFormats() []string {
	return []string{"png", "jpg", "jpeg", "tiff", "bmp", "webp"}
}

func (p *ImageParser) Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ParseResult{}, fmt.Errorf("image: decode config: %w", err)
	}

	result := ParseResult{
		Format:   extOf(filename),
		Category: CategoryVisual,
		Metadata: map[string]any{"decoded_format": format},
		Pages: []PageImage{{
			DocID:      docID,
			PageNumber: 1,
			Format:     CategoryVisual,
			ImageData:  data,
			Width:      cfg.Width,
			Height:     cfg.Height,
		}},
	}
	return result, nil
}
