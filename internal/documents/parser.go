package documents

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Parser turns the raw bytes of one file into a ParseResult. Implementors
// report which extensions they handle via SupportedFormats; Parse never
// needs to re-check the extension itself.
type Parser interface {
	SupportedFormats() []string
	Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error)
}

// Registry maps a lowercase, dotless extension to the Parser responsible
// for it. It is built once at startup and read concurrently thereafter;
// Register and For both go through an RWMutex, so late registration is
// also safe.
type Registry struct {
	mu      sync.RWMutex
	byExt   map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Parser)}
}

// Register associates p with every extension it reports supporting.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedFormats() {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = p
	}
}

// For returns the parser registered for ext, or an error if none is.
func (r *Registry) For(ext string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	p, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("documents: no parser registered for %q", ext)
	}
	return p, nil
}

// NewDefaultRegistry wires up the reference parser set this repo ships:
// PDF, OOXML office formats, HTML/XHTML, Markdown/AsciiDoc, CSV, raster
// images, and WAV/MP3/VTT audio metadata (no transcription — that is an
// external collaborator per spec.md §1).
func NewDefaultRegistry(rasterizer Rasterizer) *Registry {
	reg := NewRegistry()
	reg.Register(&PDFParser{Rasterizer: rasterizer})
	reg.Register(&OfficeParser{})
	reg.Register(&HTMLParser{Rasterizer: rasterizer})
	reg.Register(&MarkdownParser{})
	reg.Register(&CSVParser{})
	reg.Register(&ImageParser{})
	reg.Register(&AudioParser{})
	return reg
}
