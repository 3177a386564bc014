package documents

import (
	"regexp"
	"strings"
)

// Splitter turns plain text into TextChunks targeting ~chunkSize words
// with ~overlap words of repetition between consecutive chunks, per
// spec.md §3. Structural inputs (Markdown headings, table rows) should be
// chunked atomically via SplitMarkdown/SplitTableRows instead.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// NewSplitter builds a Splitter with the given word-count target and
// overlap, falling back to spec.md's defaults: 250 for a non-positive
// chunkSize, 50 for a negative overlap or one not smaller than chunkSize.
// An overlap of 0 is kept.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 250
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 50
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

var wsRe = regexp.MustCompile(`\s+`)

// SplitText chunks free text by word count with overlap, tagging every
// chunk as a paragraph.
func (s *Splitter) SplitText(text string) []TextChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []TextChunk
	idx := 0
	start := 0
	for start < len(words) {
		end := start + s.ChunkSize
		if end > len(words) {
			end = len(words)
		}
		body := strings.Join(words[start:end], " ")
		chunks = append(chunks, TextChunk{
			ChunkIndex:  idx,
			Text:        body,
			ContentType: ContentParagraph,
		})
		idx++
		if end == len(words) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)

// SplitMarkdown chunks Markdown text heading-first: each heading and the
// body beneath it (up to the next heading) forms one atomic chunk,
// further word-split only if it exceeds ChunkSize words by more than the
// overlap allowance.
func (s *Splitter) SplitMarkdown(text string) []TextChunk {
	lines := strings.Split(text, "\n")
	type section struct {
		heading string
		body    strings.Builder
	}
	var sections []section
	cur := section{}
	flushed := false
	for _, ln := range lines {
		if m := headingRe.FindStringSubmatch(ln); m != nil {
			if flushed || cur.body.Len() > 0 || cur.heading != "" {
				sections = append(sections, cur)
			}
			cur = section{heading: strings.TrimSpace(m[2])}
			flushed = true
			continue
		}
		cur.body.WriteString(ln)
		cur.body.WriteString("\n")
	}
	sections = append(sections, cur)

	var chunks []TextChunk
	idx := 0
	for _, sec := range sections {
		body := strings.TrimSpace(sec.body.String())
		if sec.heading == "" && body == "" {
			continue
		}
		if sec.heading != "" {
			chunks = append(chunks, TextChunk{ChunkIndex: idx, Text: sec.heading, ContentType: ContentHeading})
			idx++
		}
		if body == "" {
			continue
		}
		words := strings.Fields(body)
		if len(words) <= s.ChunkSize+s.Overlap {
			chunks = append(chunks, TextChunk{ChunkIndex: idx, Text: body, ContentType: ContentParagraph})
			idx++
			continue
		}
		for _, sub := range s.SplitText(body) {
			sub.ChunkIndex = idx
			chunks = append(chunks, sub)
			idx++
		}
	}
	return chunks
}

// SplitTableRows wraps each row as its own atomic chunk tagged
// table-cell, preserving structural rows instead of running them through
// the word splitter.
func (s *Splitter) SplitTableRows(rows [][]string) []TextChunk {
	var chunks []TextChunk
	for i, row := range rows {
		chunks = append(chunks, TextChunk{
			ChunkIndex:  i,
			Text:        strings.Join(row, " | "),
			ContentType: ContentTableCell,
		})
	}
	return chunks
}
