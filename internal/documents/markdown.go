package documents

import "context"

// MarkdownParser chunks Markdown and AsciiDoc source text-only: no
// page images, heading-aware atomic chunking via Splitter.SplitMarkdown.
// AsciiDoc's `=`-style headings are close enough in spirit to Markdown's
// `#` headings that the same heuristic chunker is reused; a dedicated
// AsciiDoc parser is not warranted at this repo's scope.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md", "asciidoc"} }

func (p *MarkdownParser) Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error) {
	result := ParseResult{Format: extOf(filename), Category: CategoryText, Metadata: map[string]any{}}
	splitter := NewSplitter(0, 0)
	for _, c := range splitter.SplitMarkdown(string(data)) {
		c.DocID = docID
		c.ChunkIndex = len(result.Chunks)
		result.Chunks = append(result.Chunks, c)
	}
	return result, nil
}
