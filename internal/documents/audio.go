package documents

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
)

// AudioParser covers the three audio-adjacent formats spec.md lists:
// wav (decoded for real duration/channel/sample-rate metadata via
// go-audio/wav), mp3 (size/extension metadata only — the pack carries no
// mp3 frame decoder, and transcription is an external-collaborator
// concern per spec.md §1's non-goals), and vtt (a pre-existing WebVTT
// transcript, parsed into transcript-line chunks — this is the one audio
// sub-format that already carries text, so it alone produces chunks).
type AudioParser struct{}

func (p *AudioParser) SupportedFormats() []string { return []string{"mp3", "wav", "vtt"} }

func (p *AudioParser) Parse(ctx context.Context, docID, filename string, data []byte) (ParseResult, error) {
	switch extOf(filename) {
	case "wav":
		return p.parseWAV(docID, data)
	case "vtt":
		return p.parseVTT(docID, data)
	default:
		return ParseResult{
			Format:   extOf(filename),
			Category: CategoryAudio,
			Metadata: map[string]any{"size_bytes": len(data)},
		}, nil
	}
}

func (p *AudioParser) parseWAV(docID string, data []byte) (ParseResult, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return ParseResult{}, fmt.Errorf("wav: invalid file")
	}
	duration, err := dec.Duration()
	meta := map[string]any{
		"sample_rate": dec.SampleRate,
		"num_chans":   dec.NumChans,
		"bit_depth":   dec.BitDepth,
	}
	if err == nil {
		meta["duration_seconds"] = duration.Seconds()
	}
	return ParseResult{Format: "wav", Category: CategoryAudio, Metadata: meta}, nil
}

// parseVTT pulls the text line(s) out of every WebVTT cue, discarding cue
// identifiers and timing lines, and emits one transcript-line chunk per
// cue.
func (p *AudioParser) parseVTT(docID string, data []byte) (ParseResult, error) {
	result := ParseResult{Format: "vtt", Category: CategoryText, Metadata: map[string]any{}}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var cueLines []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(cueLines, " "))
		cueLines = cueLines[:0]
		if text == "" {
			return
		}
		result.Chunks = append(result.Chunks, TextChunk{
			DocID:       docID,
			ChunkIndex:  len(result.Chunks),
			Text:        text,
			ContentType: ContentTranscript,
		})
	}

	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			if strings.HasPrefix(line, "WEBVTT") {
				continue
			}
		}
		if line == "" {
			flush()
			continue
		}
		if isVTTTimingLine(line) || isVTTCueID(line) {
			continue
		}
		cueLines = append(cueLines, line)
	}
	flush()
	return result, nil
}

func isVTTTimingLine(line string) bool {
	return strings.Contains(line, "-->")
}

// isVTTCueID reports whether line is a bare integer cue index. Non-numeric
// cue identifiers are not recognised, and the following line is not
// checked for a timing line.
func isVTTCueID(line string) bool {
	if strings.ContainsAny(line, " \t") {
		return false
	}
	_, err := strconv.Atoi(line)
	return err == nil
}
