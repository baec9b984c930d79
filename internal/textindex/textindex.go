// Package textindex provides the BM25 keyword index over content chunks,
// backed by Bleve.
package textindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// schemaVersion is bumped whenever the index mapping changes. An index
// built with another version is discarded and rebuilt from the metadata
// store.
const schemaVersion = 1

// Document is one indexed chunk. Content and filename are analyzed with
// the CJK analyzer so Chinese bigrams and Latin words both match; tags
// and file type are exact keywords.
type Document struct {
	FileID     string    `json:"file_id"`
	ChunkID    string    `json:"chunk_id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags"`
	FileType   string    `json:"file_type"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Result is one keyword hit.
type Result struct {
	ChunkID string
	FileID  string
	Score   float64
}

// Filters restricts a search. Zero fields match everything.
type Filters struct {
	FileTypes      []string
	PathPrefix     string
	Tags           []string
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

// Index is a Bleve-backed keyword index keyed by chunk id.
type Index struct {
	index bleve.Index
	path  string
}

// Open opens or creates the index at dir. When the on-disk schema
// version differs from the current one the old index is removed; the
// caller detects the empty index and re-feeds it.
func Open(dir string) (*Index, error) {
	indexPath := filepath.Join(dir, "chunks.bleve")
	versionPath := filepath.Join(dir, "schema_version")

	if raw, err := os.ReadFile(versionPath); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(raw))); err != nil || v != schemaVersion {
			if err := os.RemoveAll(indexPath); err != nil {
				return nil, fmt.Errorf("remove stale index: %w", err)
			}
		}
	}

	var idx bleve.Index
	if _, err := os.Stat(indexPath); err == nil {
		idx, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("open text index: %w", err)
		}
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		idx, err = bleve.New(indexPath, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create text index: %w", err)
		}
	}
	if err := os.WriteFile(versionPath, []byte(strconv.Itoa(schemaVersion)), 0644); err != nil {
		idx.Close()
		return nil, fmt.Errorf("write schema version: %w", err)
	}
	return &Index{index: idx, path: indexPath}, nil
}

func buildMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// CJK analyzer bigrams Han runs and passes Latin terms through
	// lowercased, so mixed Chinese/English content matches either way.
	cjkField := bleve.NewTextFieldMapping()
	cjkField.Analyzer = cjk.AnalyzerName
	doc.AddFieldMappingsAt("content", cjkField)
	doc.AddFieldMappingsAt("filename", cjkField)

	std := bleve.NewTextFieldMapping()
	std.Analyzer = standard.Name
	doc.AddFieldMappingsAt("tags", std)

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	doc.AddFieldMappingsAt("file_id", kw)
	doc.AddFieldMappingsAt("chunk_id", kw)
	doc.AddFieldMappingsAt("file_type", kw)
	doc.AddFieldMappingsAt("path", kw)

	dt := bleve.NewDateTimeFieldMapping()
	doc.AddFieldMappingsAt("modified_at", dt)

	im.DefaultMapping = doc
	return im
}

// Index adds or replaces one chunk document, keyed by chunk id.
func (ix *Index) Index(ctx context.Context, doc *Document) error {
	return ix.index.Index(doc.ChunkID, doc)
}

// IndexBatch adds or replaces documents in one batch commit.
func (ix *Index) IndexBatch(ctx context.Context, docs []*Document) error {
	batch := ix.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ChunkID, d); err != nil {
			return err
		}
	}
	return ix.index.Batch(batch)
}

// Search runs a match query over content, filename, and tags with the
// filters applied as conjuncts, returning up to limit chunk hits.
// Prefix disjuncts cover partial words: the analyzer keeps "parser.go"
// as a single term, which the query "parse" must still reach.
func (ix *Index) Search(ctx context.Context, query string, limit int, filters *Filters) ([]Result, error) {
	content := bleve.NewMatchQuery(query)
	content.SetField("content")
	filename := bleve.NewMatchQuery(query)
	filename.SetField("filename")
	filename.SetBoost(1.5)
	tags := bleve.NewMatchQuery(query)
	tags.SetField("tags")

	parts := []blevequery.Query{content, filename, tags}
	for _, term := range queryTerms(query) {
		fp := bleve.NewPrefixQuery(term)
		fp.SetField("filename")
		fp.SetBoost(1.2)
		cp := bleve.NewPrefixQuery(term)
		cp.SetField("content")
		parts = append(parts, fp, cp)
	}

	var q blevequery.Query = bleve.NewDisjunctionQuery(parts...)
	if fq := buildFilterQuery(filters); fq != nil {
		q = bleve.NewConjunctionQuery(q, fq)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"file_id"}
	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		fileID, _ := hit.Fields["file_id"].(string)
		out = append(out, Result{ChunkID: hit.ID, FileID: fileID, Score: hit.Score})
	}
	return out, nil
}

// queryTerms lowercases and splits a query on non-alphanumeric runes.
// Prefix queries bypass the analyzer, so terms must be pre-lowercased.
func queryTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func buildFilterQuery(f *Filters) blevequery.Query {
	if f == nil {
		return nil
	}
	var parts []blevequery.Query
	if len(f.FileTypes) > 0 {
		types := make([]blevequery.Query, len(f.FileTypes))
		for i, t := range f.FileTypes {
			tq := bleve.NewTermQuery(t)
			tq.SetField("file_type")
			types[i] = tq
		}
		parts = append(parts, bleve.NewDisjunctionQuery(types...))
	}
	if f.PathPrefix != "" {
		pq := bleve.NewPrefixQuery(f.PathPrefix)
		pq.SetField("path")
		parts = append(parts, pq)
	}
	for _, tag := range f.Tags {
		tq := bleve.NewMatchQuery(tag)
		tq.SetField("tags")
		parts = append(parts, tq)
	}
	if !f.ModifiedAfter.IsZero() || !f.ModifiedBefore.IsZero() {
		start, end := f.ModifiedAfter, f.ModifiedBefore
		if end.IsZero() {
			end = time.Now().Add(24 * time.Hour)
		}
		dq := bleve.NewDateRangeQuery(start, end)
		dq.SetField("modified_at")
		parts = append(parts, dq)
	}
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return bleve.NewConjunctionQuery(parts...)
}

// DeleteChunks removes chunk documents by id.
func (ix *Index) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	batch := ix.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return ix.index.Batch(batch)
}

// DeleteFile removes every chunk document belonging to the file.
func (ix *Index) DeleteFile(ctx context.Context, fileID string) error {
	tq := bleve.NewTermQuery(fileID)
	tq.SetField("file_id")
	req := bleve.NewSearchRequestOptions(tq, 10000, 0, false)
	res, err := ix.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("find file chunks: %w", err)
	}
	batch := ix.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	return ix.index.Batch(batch)
}

// DocCount returns the number of indexed chunks.
func (ix *Index) DocCount() (uint64, error) {
	return ix.index.DocCount()
}

// Terms returns the unique terms of the content and filename fields,
// feeding the query-suggestion dictionary.
func (ix *Index) Terms() ([]string, error) {
	seen := make(map[string]struct{})
	var terms []string
	for _, field := range []string{"content", "filename"} {
		dict, err := ix.index.FieldDict(field)
		if err != nil {
			continue
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if _, ok := seen[entry.Term]; !ok {
				seen[entry.Term] = struct{}{}
				terms = append(terms, entry.Term)
			}
		}
		dict.Close()
	}
	return terms, nil
}

// TermDocFrequency returns how many chunks contain the term.
func (ix *Index) TermDocFrequency(term string) (int, error) {
	q := bleve.NewMatchQuery(term)
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := ix.index.Search(req)
	if err != nil {
		return 0, err
	}
	return int(res.Total), nil
}

// Close closes the underlying index.
func (ix *Index) Close() error { return ix.index.Close() }
