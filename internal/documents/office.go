package documents

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// OfficeParser handles the OOXML formats (xlsx via excelize; docx/pptx
// via direct zip+XML text extraction, since excelize is spreadsheet-only
// and the pack carries no docx/pptx-specific library). These formats are
// text-only: they produce chunks but no pages, per spec.md §3 ("a page
// exists only for visual formats"), so unlike PDFParser/HTMLParser there
// is no Rasterizer dependency here.
type OfficeParser struct{}

func (p *OfficeParser) SupportedFormats() []string { return []string{"xlsx", "docx", "pptx"} }

func (p *OfficeParser) Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error) {
	ext := extOf(filename)
	switch ext {
	case "xlsx":
		return p.parseXLSX(docID, data)
	case "docx":
		return p.parseDocx(docID, data)
	case "pptx":
		return p.parsePptx(docID, data)
	default:
		return ParseResult{}, fmt.Errorf("office: unsupported extension %q", ext)
	}
}

func (p *OfficeParser) parseXLSX(docID string, data []byte) (ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return ParseResult{}, fmt.Errorf("xlsx: open: %w", err)
	}
	defer f.Close()

	result := ParseResult{Format: "xlsx", Category: CategoryText, Metadata: map[string]any{}}
	sheets := f.GetSheetList()
	result.Metadata["sheets"] = sheets

	splitter := NewSplitter(0, 0)
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, c := range splitter.SplitTableRows(rows) {
			c.DocID = docID
			c.ChunkIndex = len(result.Chunks)
			result.Chunks = append(result.Chunks, c)
		}
	}
	return result, nil
}

// parseDocx extracts plain text from word/document.xml's <w:t> runs,
// joined paragraph by paragraph (<w:p>).
func (p *OfficeParser) parseDocx(docID string, data []byte) (ParseResult, error) {
	content, err := readZipEntry(data, "word/document.xml")
	if err != nil {
		return ParseResult{}, fmt.Errorf("docx: %w", err)
	}
	paragraphs, err := extractRuns(content, "p", "t")
	if err != nil {
		return ParseResult{}, fmt.Errorf("docx: parse xml: %w", err)
	}

	result := ParseResult{Format: "docx", Category: CategoryText, Metadata: map[string]any{}}
	splitter := NewSplitter(0, 0)
	idx := 0
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, c := range splitter.SplitText(para) {
			c.DocID = docID
			c.ChunkIndex = idx
			idx++
			result.Chunks = append(result.Chunks, c)
		}
	}
	return result, nil
}

// parsePptx extracts text from every slideN.xml's <a:t> runs, one chunk
// group (caption-tagged) per slide.
func (p *OfficeParser) parsePptx(docID string, data []byte) (ParseResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParseResult{}, fmt.Errorf("pptx: open zip: %w", err)
	}
	var slideFiles []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slideFiles = append(slideFiles, f.Name)
		}
	}
	sort.Strings(slideFiles)

	result := ParseResult{Format: "pptx", Category: CategoryText, Metadata: map[string]any{"slide_count": len(slideFiles)}}
	idx := 0
	for _, name := range slideFiles {
		content, err := readZipEntry(data, name)
		if err != nil {
			continue
		}
		runs, err := extractRuns(content, "sp", "t")
		if err != nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(runs, " "))
		if text == "" {
			continue
		}
		result.Chunks = append(result.Chunks, TextChunk{
			DocID:       docID,
			ChunkIndex:  idx,
			Text:        text,
			ContentType: ContentCaption,
		})
		idx++
	}
	return result, nil
}

func readZipEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("entry %q not found in archive", name)
}

// extractRuns walks generic OOXML run-text elements (local name
// textLocal, e.g. "t") grouped under a container element (local name
// groupLocal, e.g. "p" or "sp"), returning one joined string per group.
// It is deliberately namespace-agnostic (matches by local name only)
// since docx uses the w: prefix and pptx/drawingml uses a:.
func extractRuns(xmlBytes []byte, groupLocal, textLocal string) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBytes))
	var groups []string
	var curGroup strings.Builder
	depth := 0
	inGroup := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == groupLocal {
				if inGroup {
					groups = append(groups, curGroup.String())
					curGroup.Reset()
				}
				inGroup = true
				depth = 0
			} else if inGroup {
				depth++
			}
			if inGroup && t.Name.Local == textLocal {
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					if curGroup.Len() > 0 {
						curGroup.WriteString(" ")
					}
					curGroup.WriteString(s)
				}
			}
		case xml.EndElement:
			if inGroup && t.Name.Local == groupLocal {
				groups = append(groups, curGroup.String())
				curGroup.Reset()
				inGroup = false
			}
		}
	}
	if inGroup {
		groups = append(groups, curGroup.String())
	}
	return groups, nil
}

func extOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}
