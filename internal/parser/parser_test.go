package parser

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	cases := map[string]bool{
		"/a/notes.md":    true,
		"/a/main.go":     true,
		"/a/report.pdf":  true,
		"/a/doc.docx":    true,
		"/a/sheet.xlsx":  true,
		"/a/letter.rtf":  true,
		"/a/movie.mp4":   false,
		"/a/image.png":   false,
		"/a/archive.zip": false,
	}
	for path, want := range cases {
		if _, ok := r.ForPath(path); ok != want {
			t.Errorf("ForPath(%q) = %v, want %v", path, ok, want)
		}
	}

	// Unsupported formats yield no chunks and no error.
	chunks, err := r.Parse("/a/movie.mp4", []byte{0, 1, 2})
	if err != nil || chunks != nil {
		t.Errorf("Parse(unsupported) = %v, %v", chunks, err)
	}
}

func TestTextParserParagraphsAndOffsets(t *testing.T) {
	input := "First paragraph line one.\nline two.\n\nSecond paragraph, standing alone and long enough to not be merged with anything that follows because it exceeds the minimum chunk size when combined with the remaining text in this sentence here.\n\nshort tail"
	chunks, err := NewTextParser().Parse("/a/x.txt", []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	for _, c := range chunks {
		loc := c.Location
		if loc.ByteEnd <= loc.ByteStart || loc.ByteEnd > len(input) {
			t.Errorf("bad byte range %+v", loc)
			continue
		}
		if got := input[loc.ByteStart:loc.ByteEnd]; got != c.Text {
			t.Errorf("offset mismatch:\nchunk %q\nspan  %q", c.Text, got)
		}
		if loc.LineStart < 1 || loc.LineEnd < loc.LineStart {
			t.Errorf("bad line range %+v", loc)
		}
	}
	if chunks[0].Location.LineStart != 1 || chunks[0].Location.ByteStart != 0 {
		t.Errorf("first chunk location = %+v", chunks[0].Location)
	}
}

func TestTextParserMarkdownHeadings(t *testing.T) {
	input := "# Title\n\nIntro paragraph.\n\n## Section\n\nBody text."
	chunks, err := NewTextParser().Parse("/a/doc.md", []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var headings []string
	for _, c := range chunks {
		if c.Kind == models.ChunkHeading {
			headings = append(headings, c.Text)
		}
	}
	if len(headings) != 2 || headings[0] != "# Title" || headings[1] != "## Section" {
		t.Errorf("headings = %v", headings)
	}
}

func TestTextParserSplitsOversizedBlock(t *testing.T) {
	input := strings.Repeat("word ", 1200) // ~6000 bytes, one paragraph
	chunks, err := NewTextParser().Parse("/a/big.txt", []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("oversized block produced %d chunks, want >= 3", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Text) > maxChunkBytes {
			t.Errorf("chunk of %d bytes exceeds cap", len(c.Text))
		}
	}
}

func TestCodeParserSplitsAtDeclarations(t *testing.T) {
	src := `package main

import "fmt"

func first() {
	fmt.Println("one")
}

func second() int {
	return 2
}

type thing struct {
	n int
}
`
	chunks, err := NewCodeParser().Parse("/a/main.go", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4 (preamble + 2 funcs + type)", len(chunks))
	}
	for _, c := range chunks {
		if c.Kind != models.ChunkCodeBlock {
			t.Errorf("Kind = %s, want code-block", c.Kind)
		}
	}
	if !strings.Contains(chunks[1].Text, "func first()") {
		t.Errorf("chunk 1 = %q", chunks[1].Text)
	}
	if chunks[1].Location.LineStart != 5 {
		t.Errorf("func first starts at line %d, want 5", chunks[1].Location.LineStart)
	}
	if !strings.Contains(chunks[3].Text, "type thing struct") {
		t.Errorf("chunk 3 = %q", chunks[3].Text)
	}
}

func TestDocxExtraction(t *testing.T) {
	docXML := `<?xml version="1.0"?><w:document xmlns:w="x"><w:body>` +
		`<w:p w:rsidR="a"><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(docXML)); err != nil {
		t.Fatal(err)
	}
	zw.Close()

	chunks, err := NewOfficeParser().Parse("/a/doc.docx", buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks from docx")
	}
	all := ""
	for _, c := range chunks {
		all += c.Text + "\n"
	}
	if !strings.Contains(all, "Hello world") || !strings.Contains(all, "Second paragraph") {
		t.Errorf("extracted text = %q", all)
	}
	if strings.Contains(all, "  ") {
		t.Errorf("doubled run separator in %q", all)
	}
}

func TestDocxMissingBodyIsParseFault(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("other.xml")
	w.Write([]byte("<x/>"))
	zw.Close()

	_, err := NewOfficeParser().Parse("/a/doc.docx", buf.Bytes())
	if faults.KindOf(err) != faults.Parse {
		t.Errorf("error kind = %v, want Parse", faults.KindOf(err))
	}
}

func TestExcelParserTableChunks(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetCellValue(sheet, "A1", "name")
	f.SetCellValue(sheet, "B1", "amount")
	f.SetCellValue(sheet, "A2", "widgets")
	f.SetCellValue(sheet, "B2", 42)
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	chunks, err := NewExcelParser().Parse("/a/sheet.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Kind != models.ChunkTable {
		t.Errorf("Kind = %s, want table", c.Kind)
	}
	if !strings.Contains(c.Text, "name\tamount") || !strings.Contains(c.Text, "widgets\t42") {
		t.Errorf("table text = %q", c.Text)
	}
	if c.Location.LineStart != 1 || c.Location.LineEnd != 2 {
		t.Errorf("row range = %d-%d, want 1-2", c.Location.LineStart, c.Location.LineEnd)
	}
}

func TestPDFGarbageIsParseFault(t *testing.T) {
	_, err := NewPDFParser().Parse("/a/broken.pdf", []byte("not a pdf at all"))
	if faults.KindOf(err) != faults.Parse {
		t.Errorf("error kind = %v, want Parse", faults.KindOf(err))
	}
}
