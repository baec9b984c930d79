package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// rows per table chunk
const excelRowsPerChunk = 50

// ExcelParser emits table chunks per sheet, rows tab-separated.
type ExcelParser struct{}

// NewExcelParser returns the spreadsheet parser.
func NewExcelParser() *ExcelParser { return &ExcelParser{} }

// Extensions implements Parser.
func (p *ExcelParser) Extensions() []string { return []string{".xlsx"} }

// Parse implements Parser. Each chunk covers up to excelRowsPerChunk
// rows of one sheet, prefixed with the sheet name; line offsets carry
// the 1-based row range within the sheet.
func (p *ExcelParser) Parse(path string, data []byte) ([]models.ChunkDraft, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(faults.Parse, "open workbook", err)
	}
	defer f.Close()

	var out []models.ChunkDraft
	base := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, faults.Wrap(faults.Parse, fmt.Sprintf("read sheet %q", sheet), err)
		}
		for start := 0; start < len(rows); start += excelRowsPerChunk {
			end := start + excelRowsPerChunk
			if end > len(rows) {
				end = len(rows)
			}
			var b strings.Builder
			b.WriteString(sheet)
			b.WriteByte('\n')
			empty := true
			for _, row := range rows[start:end] {
				line := strings.Join(row, "\t")
				if strings.TrimSpace(line) != "" {
					empty = false
				}
				b.WriteString(line)
				b.WriteByte('\n')
			}
			if empty {
				continue
			}
			text := strings.TrimRight(b.String(), "\n")
			out = append(out, models.ChunkDraft{
				Kind: models.ChunkTable,
				Text: text,
				Location: models.ChunkLocation{
					ByteStart: base, ByteEnd: base + len(text),
					LineStart: start + 1, LineEnd: end,
				},
			})
			base += len(text) + 1
		}
	}
	return out, nil
}
