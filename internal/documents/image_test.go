package documents

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func fourPixelImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	return img
}

func TestImageParser_DecodesBMP(t *testing.T) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, fourPixelImage()); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}

	p := &ImageParser{}
	result, err := p.Parse(context.Background(), "doc1", "scan.bmp", buf.Bytes())
	if err != nil {
		t.Fatalf("parse bmp: %v", err)
	}
	if len(result.Pages) != 1 {
		t.Fatalf("expected one page, got %d", len(result.Pages))
	}
	if result.Pages[0].Width != 2 || result.Pages[0].Height != 2 {
		t.Fatalf("dimensions = %dx%d, want 2x2", result.Pages[0].Width, result.Pages[0].Height)
	}
}

func TestImageParser_DecodesTIFF(t *testing.T) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, fourPixelImage(), nil); err != nil {
		t.Fatalf("encode tiff: %v", err)
	}

	p := &ImageParser{}
	result, err := p.Parse(context.Background(), "doc1", "scan.tiff", buf.Bytes())
	if err != nil {
		t.Fatalf("parse tiff: %v", err)
	}
	if len(result.Pages) != 1 {
		t.Fatalf("expected one page, got %d", len(result.Pages))
	}
	if result.Pages[0].Width != 2 || result.Pages[0].Height != 2 {
		t.Fatalf("dimensions = %dx%d, want 2x2", result.Pages[0].Width, result.Pages[0].Height)
	}
}

func TestImageParser_SupportsWebP(t *testing.T) {
	p := &ImageParser{}
	found := false
	for _, ext := range p.SupportedFormats() {
		if ext == "webp" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected webp in supported formats")
	}
}
