package parser

import (
	"archive/zip"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/lu4p/cat"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// OfficeParser handles word-processor formats: DOCX via the OOXML zip
// directly, ODT and RTF via the cat converter.
type OfficeParser struct{}

// NewOfficeParser returns the office-document parser.
func NewOfficeParser() *OfficeParser { return &OfficeParser{} }

// Extensions implements Parser.
func (p *OfficeParser) Extensions() []string { return []string{".docx", ".odt", ".rtf"} }

// Parse implements Parser.
func (p *OfficeParser) Parse(path string, data []byte) ([]models.ChunkDraft, error) {
	var text string
	var err error
	if strings.HasSuffix(strings.ToLower(path), ".docx") {
		text, err = extractDocx(data)
	} else {
		text, err = cat.FromBytes(data)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Parse, "extract document text", err)
	}
	return segmentText(text, false), nil
}

// wtTag matches <w:t> runs with any attributes; matching on text nodes
// rather than paragraphs survives real-world run attributes.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// wpClose marks paragraph boundaries in the document body.
var wpClose = regexp.MustCompile(`</w:p>`)

func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		break
	}
	if docXML == nil {
		return "", faults.New(faults.Parse, "word/document.xml not found")
	}
	// Turn paragraph closes into blank lines so segmentation keeps the
	// document's paragraph structure.
	body := wpClose.ReplaceAllString(string(docXML), "\n\n")
	parts := wtTag.FindAllStringSubmatchIndex(body, -1)
	var b strings.Builder
	last := 0
	for _, m := range parts {
		between := body[last:m[0]]
		run := body[m[2]:m[3]]
		if strings.Contains(between, "\n\n") {
			b.WriteString("\n\n")
		} else if b.Len() > 0 && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(run, " ") {
			// runs with xml:space="preserve" carry their own separator
			b.WriteByte(' ')
		}
		b.WriteString(run)
		last = m[1]
	}
	return strings.TrimSpace(b.String()), nil
}
