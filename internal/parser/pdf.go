package parser

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// PDFParser extracts page-tagged text chunks.
type PDFParser struct{}

// NewPDFParser returns the PDF parser.
func NewPDFParser() *PDFParser { return &PDFParser{} }

// Extensions implements Parser.
func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

// Parse implements Parser. Each page's text is segmented into paragraph
// chunks carrying the page number; byte offsets index the concatenated
// extracted text.
func (p *PDFParser) Parse(path string, data []byte) ([]models.ChunkDraft, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, faults.Wrap(faults.Parse, "open pdf", err)
	}
	var out []models.ChunkDraft
	base := 0
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single damaged page does not fail the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			base += len(text) + 1
			continue
		}
		for _, c := range segmentText(text, false) {
			c.Location.ByteStart += base
			c.Location.ByteEnd += base
			c.Location.LineStart = 0
			c.Location.LineEnd = 0
			c.Location.Page = i
			out = append(out, c)
		}
		base += len(text) + 1
	}
	return out, nil
}
