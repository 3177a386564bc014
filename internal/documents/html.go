package documents

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"
)

// HTMLParser extracts the readable article body from HTML/XHTML with
// go-readability, normalizes it to Markdown with html-to-markdown for
// chunking, and (if a Rasterizer is configured) renders the original
// markup as a single representative page image — HTML is treated as a
// one-page visual format, matching the teacher's own HTML-to-screenshot
// tooling in internal/web.
type HTMLParser struct {
	Rasterizer Rasterizer
}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html", "xhtml"} }

func (p *HTMLParser) Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error) {
	article, err := readability.FromReader(strings.NewReader(string(data)), &url.URL{Path: filename})
	if err != nil {
		return ParseResult{}, fmt.Errorf("html: readability: %w", err)
	}

	markdown, err := md.ConvertString(article.Content)
	if err != nil {
		markdown = article.TextContent
	}

	result := ParseResult{
		Format:   extOf(filename),
		Category: CategoryVisual,
		Metadata: map[string]any{"title": article.Title, "excerpt": article.Excerpt},
	}

	img := PageImage{DocID: docID, PageNumber: 1, Format: CategoryVisual, Width: 1280, Height: 1600}
	if p.Rasterizer != nil {
		rendered, err := p.Rasterizer.RasterizeHTML(ctx, string(data), img.Width, img.Height)
		if err == nil {
			img.ImageData = rendered
		}
	}
	result.Pages = append(result.Pages, img)

	splitter := NewSplitter(0, 0)
	pageNum := 1
	for _, c := range splitter.SplitMarkdown(markdown) {
		c.DocID = docID
		c.PageNumber = &pageNum
		c.ChunkIndex = len(result.Chunks)
		result.Chunks = append(result.Chunks, c)
	}
	return result, nil
}
