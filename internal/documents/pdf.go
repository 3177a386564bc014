package documents

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts per-page text from a PDF with ledongthuc/pdf and, if
// a Rasterizer is configured, renders each page's extracted text into a
// representative page image. True PDF rasterization (rendering the
// original vector content) is an external-collaborator concern per
// spec.md §1; this reflows extracted text through the same HTML
// rasterization path used for HTML documents so the visual-format path
// is still exercised end to end.
type PDFParser struct {
	Rasterizer Rasterizer
}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParseResult{}, fmt.Errorf("pdf: open %s: %w", filename, err)
	}

	numPages := reader.NumPage()
	result := ParseResult{
		Format:   "pdf",
		Category: CategoryVisual,
		Metadata: map[string]any{"page_count": numPages},
	}

	splitter := NewSplitter(0, 0)
	for i := 1; i <= numPages; i++ {
		select {
		case <-ctx.Done():
			return ParseResult{}, ctx.Err()
		default:
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Data-dependent failure on a single page: skip it, don't
			// fail the whole document (spec.md §7's parser-diagnostic row
			// applies at the page granularity here).
			continue
		}
		text = strings.TrimSpace(text)

		img := PageImage{DocID: docID, PageNumber: i, Format: CategoryVisual, Width: 1024, Height: 1448}
		if p.Rasterizer != nil {
			rendered, err := p.Rasterizer.RasterizeHTML(ctx, wrapTextAsHTML(text), img.Width, img.Height)
			if err == nil {
				img.ImageData = rendered
			}
		}
		result.Pages = append(result.Pages, img)

		pageNum := i
		for _, c := range splitter.SplitText(text) {
			c.DocID = docID
			c.PageNumber = &pageNum
			c.ChunkIndex = len(result.Chunks)
			result.Chunks = append(result.Chunks, c)
		}
	}
	return result, nil
}

func wrapTextAsHTML(text string) string {
	return "<html><body><pre>" + html.EscapeString(text) + "</pre></body></html>"
}
