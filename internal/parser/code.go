package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/neuralfs/neuralfs/internal/models"
)

// CodeParser splits source files at top-level declaration boundaries so
// each chunk carries one function or type group with its line range.
type CodeParser struct{}

// NewCodeParser returns the source-code parser.
func NewCodeParser() *CodeParser { return &CodeParser{} }

// Extensions implements Parser.
func (p *CodeParser) Extensions() []string {
	return []string{".go", ".rs", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".rb", ".sh", ".sql"}
}

// declStart matches lines that open a top-level declaration in the
// supported languages.
var declStart = regexp.MustCompile(`^(func |fn |def |class |type |impl |function |const |var |export |pub |public |private |static |interface |struct |enum |CREATE |create )`)

// Parse implements Parser.
func (p *CodeParser) Parse(path string, data []byte) ([]models.ChunkDraft, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	lines := strings.Split(text, "\n")

	type section struct {
		startLine int
		startByte int
	}
	var out []models.ChunkDraft
	emit := func(s section, endLine, endByte int) {
		segment := text[s.startByte:endByte]
		if strings.TrimSpace(segment) == "" {
			return
		}
		// Oversized declarations split on size like text blocks.
		for _, c := range blockChunks(block{
			text:      segment,
			byteStart: s.startByte, byteEnd: endByte,
			lineStart: s.startLine, lineEnd: endLine,
		}) {
			c.Kind = models.ChunkCodeBlock
			out = append(out, c)
		}
	}

	cur := section{startLine: 1, startByte: 0}
	offset := 0
	for i, line := range lines {
		if i > 0 && declStart.MatchString(line) {
			emit(cur, i, offset-1)
			cur = section{startLine: i + 1, startByte: offset}
		}
		offset += len(line) + 1
	}
	emit(cur, len(lines), len(text))
	return out, nil
}
