package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/neuralfs/neuralfs/internal/models"
)

// TextParser handles plain text and markup formats: paragraphs split on
// blank lines, markdown headings as their own heading chunks.
type TextParser struct{}

// NewTextParser returns the plain-text parser.
func NewTextParser() *TextParser { return &TextParser{} }

// Extensions implements Parser.
func (p *TextParser) Extensions() []string {
	return []string{".txt", ".md", ".rst", ".csv", ".log"}
}

// Parse implements Parser.
func (p *TextParser) Parse(path string, data []byte) ([]models.ChunkDraft, error) {
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	markdown := strings.HasSuffix(strings.ToLower(path), ".md")
	return segmentText(string(data), markdown), nil
}

type block struct {
	text      string
	byteStart int
	byteEnd   int
	lineStart int
	lineEnd   int
	heading   bool
}

// segmentText splits text into paragraph blocks on blank lines, then
// merges small blocks and splits oversized ones into sized chunks.
// Offsets index the input text.
func segmentText(text string, markdown bool) []models.ChunkDraft {
	blocks := splitBlocks(text, markdown)
	var out []models.ChunkDraft
	var acc *block
	flush := func() {
		if acc == nil {
			return
		}
		out = append(out, blockChunks(*acc)...)
		acc = nil
	}
	for _, b := range blocks {
		if b.heading {
			flush()
			out = append(out, models.ChunkDraft{
				Kind: models.ChunkHeading,
				Text: b.text,
				Location: models.ChunkLocation{
					ByteStart: b.byteStart, ByteEnd: b.byteEnd,
					LineStart: b.lineStart, LineEnd: b.lineEnd,
				},
			})
			continue
		}
		if acc == nil {
			cp := b
			acc = &cp
			if len(acc.text) >= minChunkBytes {
				flush()
			}
			continue
		}
		merged := acc.text + "\n\n" + b.text
		if len(merged) > maxChunkBytes {
			flush()
			cp := b
			acc = &cp
			if len(acc.text) >= minChunkBytes {
				flush()
			}
			continue
		}
		acc.text = merged
		acc.byteEnd = b.byteEnd
		acc.lineEnd = b.lineEnd
		if len(acc.text) >= minChunkBytes {
			flush()
		}
	}
	flush()
	return out
}

// splitBlocks produces raw paragraph blocks with offsets.
func splitBlocks(text string, markdown bool) []block {
	var blocks []block
	line := 1
	offset := 0
	var cur *block
	closeCur := func() {
		if cur != nil && strings.TrimSpace(cur.text) != "" {
			blocks = append(blocks, *cur)
		}
		cur = nil
	}
	for offset <= len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		var raw string
		next := len(text) + 1
		if end >= 0 {
			raw = text[offset : offset+end]
			next = offset + end + 1
		} else {
			raw = text[offset:]
		}
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "":
			closeCur()
		case markdown && strings.HasPrefix(trimmed, "#"):
			closeCur()
			blocks = append(blocks, block{
				text:      trimmed,
				byteStart: offset, byteEnd: offset + len(raw),
				lineStart: line, lineEnd: line,
				heading: true,
			})
		default:
			if cur == nil {
				cur = &block{
					text:      raw,
					byteStart: offset, byteEnd: offset + len(raw),
					lineStart: line, lineEnd: line,
				}
			} else {
				cur.text += "\n" + raw
				cur.byteEnd = offset + len(raw)
				cur.lineEnd = line
			}
		}
		line++
		if next > len(text) {
			break
		}
		offset = next
	}
	closeCur()
	return blocks
}

// blockChunks converts one block to chunks, splitting oversized text at
// rune boundaries.
func blockChunks(b block) []models.ChunkDraft {
	if len(b.text) <= maxChunkBytes {
		return []models.ChunkDraft{{
			Kind: models.ChunkParagraph,
			Text: b.text,
			Location: models.ChunkLocation{
				ByteStart: b.byteStart, ByteEnd: b.byteEnd,
				LineStart: b.lineStart, LineEnd: b.lineEnd,
			},
		}}
	}
	var out []models.ChunkDraft
	rest := b.text
	start := b.byteStart
	for len(rest) > 0 {
		cut := len(rest)
		if cut > maxChunkBytes {
			cut = maxChunkBytes
			for cut > 0 && !utf8.RuneStart(rest[cut]) {
				cut--
			}
		}
		piece := rest[:cut]
		out = append(out, models.ChunkDraft{
			Kind: models.ChunkParagraph,
			Text: piece,
			Location: models.ChunkLocation{
				ByteStart: start, ByteEnd: start + len(piece),
				LineStart: b.lineStart, LineEnd: b.lineEnd,
			},
		})
		start += len(piece)
		rest = rest[cut:]
	}
	return out
}
