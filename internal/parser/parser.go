// Package parser turns file content into located chunk drafts. Each
// format parser emits semantic segments with byte offsets into the
// extracted text, plus line, page, or sheet detail where the format
// carries it.
package parser

import (
	"path/filepath"
	"strings"

	"github.com/neuralfs/neuralfs/internal/models"
)

// Target chunk sizing. Paragraphs are merged until a chunk reaches
// minChunkBytes and split when a single run exceeds maxChunkBytes.
const (
	minChunkBytes = 200
	maxChunkBytes = 2000
)

// Parser extracts chunk drafts from one file format family.
type Parser interface {
	// Parse turns raw file bytes into located chunks. An empty result
	// with nil error means the file has no extractable text.
	Parse(path string, data []byte) ([]models.ChunkDraft, error)
	// Extensions lists the lowercase dotted extensions handled.
	Extensions() []string
}

// Registry dispatches to parsers by file extension.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry builds a registry with the default parser set.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	for _, p := range []Parser{
		NewTextParser(),
		NewCodeParser(),
		NewPDFParser(),
		NewOfficeParser(),
		NewExcelParser(),
	} {
		r.Register(p)
	}
	return r
}

// Register adds a parser, overriding earlier registrations for its
// extensions.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.byExt[ext] = p
	}
}

// ForPath returns the parser for a path's extension.
func (r *Registry) ForPath(path string) (Parser, bool) {
	p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Parse dispatches on extension. Unsupported formats return no chunks;
// such files are still indexed by filename and metadata.
func (r *Registry) Parse(path string, data []byte) ([]models.ChunkDraft, error) {
	p, ok := r.ForPath(path)
	if !ok {
		return nil, nil
	}
	return p.Parse(path, data)
}

// Supported reports whether the extension has a content parser.
func (r *Registry) Supported(ext string) bool {
	_, ok := r.byExt[strings.ToLower(ext)]
	return ok
}
