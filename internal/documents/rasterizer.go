package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Rasterizer renders one page of HTML (or HTML produced from another
// format, e.g. a PDF page's extracted text reflowed into a simple
// template) into a PNG screenshot. It is the single place headless-Chrome
// dependency lives, so parsers stay testable without a browser.
type Rasterizer interface {
	RasterizeHTML(ctx context.Context, html string, width, height int) ([]byte, error)
}

// ChromeRasterizer renders via a headless Chrome instance driven by
// chromedp, matching the teacher's internal/web screenshot helper.
type ChromeRasterizer struct {
	Timeout time.Duration
}

// NewChromeRasterizer returns a Rasterizer with a sane default timeout.
func NewChromeRasterizer() *ChromeRasterizer {
	return &ChromeRasterizer{Timeout: 30 * time.Second}
}

// RasterizeHTML navigates to a data: URL holding html and screenshots the
// full page at width x height.
func (c *ChromeRasterizer) RasterizeHTML(ctx context.Context, html string, width, height int) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var buf []byte
	dataURL := "data:text/html," + html
	err := chromedp.Run(browserCtx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURL),
		chromedp.FullScreenshot(&buf, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("rasterize html: %w", err)
	}
	return buf, nil
}

// NullRasterizer skips real rendering and returns nil image bytes; pages
// still carry their number and dimensions so the rest of the pipeline
// (embedding, storage) is exercised without requiring a browser binary,
// e.g. in unit tests.
type NullRasterizer struct{}

func (NullRasterizer) RasterizeHTML(ctx context.Context, html string, width, height int) ([]byte, error) {
	return nil, nil
}
