package indexer

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/fileid"
	"github.com/neuralfs/neuralfs/internal/models"
	"github.com/neuralfs/neuralfs/internal/parser"
	"github.com/neuralfs/neuralfs/internal/store"
	"github.com/neuralfs/neuralfs/internal/textindex"
	"github.com/neuralfs/neuralfs/internal/vector"
)

// Pipeline runs one file through parse, embed, vector upsert, text
// index, and the metadata transaction.
type Pipeline struct {
	Store    *store.Store
	Vectors  vector.Store
	Text     *textindex.Index
	Parsers  *parser.Registry
	Embedder embedding.Embedder
	Logger   *zap.Logger

	// OnIndexed runs after a file reaches the indexed state; tag
	// assignment and relation generation hook in here.
	OnIndexed func(ctx context.Context, file *models.FileRecord, chunks []*models.ContentChunk)
}

// Process executes the task. Returned errors carry a faults.Kind that
// decides retry behavior.
func (p *Pipeline) Process(ctx context.Context, task *models.IndexTask) error {
	if task.Delete {
		return p.retire(ctx, task)
	}

	info, err := os.Stat(task.Path)
	if errors.Is(err, fs.ErrNotExist) {
		// deleted between detection and processing; clean up any record
		if rec, gerr := p.Store.Files.GetByPath(ctx, task.Path); gerr == nil {
			return p.retireRecord(ctx, rec)
		}
		return faults.Newf(faults.NotFound, "path %s no longer exists", task.Path)
	}
	if err != nil {
		return classifyFSError("stat file", err)
	}
	if info.IsDir() {
		return faults.Newf(faults.InvalidArgument, "path %s is a directory", task.Path)
	}

	data, err := os.ReadFile(task.Path)
	if err != nil {
		return classifyFSError("read file", err)
	}

	fingerprint := fileid.FingerprintBytes(data)
	ident, err := fileid.Identity(task.Path)
	if err != nil {
		return classifyFSError("resolve file identity", err)
	}

	rec, err := p.Store.Files.GetByPath(ctx, task.Path)
	exists := err == nil
	switch {
	case exists:
		if rec.Fingerprint == fingerprint && rec.IndexStatus == models.IndexIndexed {
			p.Logger.Debug("content unchanged, skipping", zap.String("path", task.Path))
			return nil
		}
	case faults.KindOf(err) == faults.NotFound:
		rec = newRecord(task.Path)
	default:
		return err
	}

	now := time.Now().UTC()
	rec.Size = info.Size()
	rec.ModifiedAt = info.ModTime().UTC().Truncate(time.Second)
	rec.Fingerprint = fingerprint
	rec.Identity = ident
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Privacy == "" {
		rec.Privacy = models.PrivacyNormal
	}

	rec.IndexStatus = models.IndexIndexing
	if exists {
		if err := p.Store.Files.Update(ctx, rec); err != nil {
			return err
		}
	} else {
		if err := p.Store.Files.Create(ctx, rec); err != nil {
			return err
		}
	}

	chunks, err := p.buildChunks(ctx, rec, data)
	if err != nil {
		_ = p.Store.Files.SetStatus(ctx, rec.ID, models.IndexFailed, err.Error())
		return err
	}

	if err := p.commit(ctx, rec, chunks); err != nil {
		_ = p.Store.Files.SetStatus(ctx, rec.ID, models.IndexFailed, err.Error())
		return err
	}

	if err := p.Store.Files.SetStatus(ctx, rec.ID, models.IndexIndexed, ""); err != nil {
		return err
	}
	rec.IndexStatus = models.IndexIndexed
	p.Logger.Info("file indexed",
		zap.String("path", rec.Path),
		zap.Int("chunks", len(chunks)))

	if p.OnIndexed != nil {
		p.OnIndexed(ctx, rec, chunks)
	}
	return nil
}

// buildChunks parses and embeds the file content. Unsupported types
// yield no chunks; the filename document still enters the text index.
func (p *Pipeline) buildChunks(ctx context.Context, rec *models.FileRecord, data []byte) ([]*models.ContentChunk, error) {
	drafts, err := p.Parsers.Parse(rec.Path, data)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Text
	}
	vectors, err := p.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(drafts) {
		return nil, faults.Newf(faults.Internal, "embedder returned %d vectors for %d chunks", len(vectors), len(drafts))
	}

	now := time.Now().UTC()
	chunks := make([]*models.ContentChunk, len(drafts))
	for i, d := range drafts {
		id := models.NewID()
		chunks[i] = &models.ContentChunk{
			ID:        id,
			FileID:    rec.ID,
			Index:     i,
			Kind:      d.Kind,
			Text:      d.Text,
			Location:  d.Location,
			VectorID:  models.PointID(id),
			CreatedAt: now,
		}
	}

	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ID:     c.VectorID,
			Vector: vectors[i],
			Payload: vector.Payload{
				FileID:     rec.ID,
				ChunkID:    c.ID,
				FileType:   string(rec.FileType),
				Privacy:    string(rec.Privacy),
				Path:       rec.Path,
				ModifiedAt: rec.ModifiedAt.Unix(),
			},
		}
	}
	if err := p.Vectors.Upsert(ctx, points); err != nil {
		return nil, err
	}
	return chunks, nil
}

// commit replaces derived artifacts: stale vector points, text-index
// documents, and the chunk rows. Chunk rows swap in a single transaction.
func (p *Pipeline) commit(ctx context.Context, rec *models.FileRecord, chunks []*models.ContentChunk) error {
	staleVecIDs, err := p.Store.Chunks.VectorIDsForFile(ctx, rec.ID)
	if err != nil {
		return err
	}

	if err := p.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return p.Store.Chunks.ReplaceForFile(ctx, tx, rec.ID, chunks)
	}); err != nil {
		return err
	}

	if len(staleVecIDs) > 0 {
		if err := p.Vectors.Delete(ctx, staleVecIDs); err != nil {
			return err
		}
	}

	if err := p.Text.DeleteFile(ctx, rec.ID); err != nil {
		return err
	}
	tags, err := p.Store.FileTags.TagNamesForFile(ctx, rec.ID)
	if err != nil {
		return err
	}
	docs := make([]*textindex.Document, 0, len(chunks)+1)
	for _, c := range chunks {
		docs = append(docs, &textindex.Document{
			FileID:     rec.ID,
			ChunkID:    c.ID,
			Filename:   rec.Name,
			Path:       rec.Path,
			Content:    c.Text,
			Tags:       tags,
			FileType:   string(rec.FileType),
			ModifiedAt: rec.ModifiedAt,
		})
	}
	if len(chunks) == 0 {
		// filename-only document keeps unsupported types findable
		docs = append(docs, &textindex.Document{
			FileID:     rec.ID,
			ChunkID:    rec.ID,
			Filename:   rec.Name,
			Path:       rec.Path,
			Tags:       tags,
			FileType:   string(rec.FileType),
			ModifiedAt: rec.ModifiedAt,
		})
	}
	return p.Text.IndexBatch(ctx, docs)
}

// retire removes a deleted file's record and all derived artifacts.
func (p *Pipeline) retire(ctx context.Context, task *models.IndexTask) error {
	rec, err := p.Store.Files.GetByPath(ctx, task.Path)
	if faults.KindOf(err) == faults.NotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return p.retireRecord(ctx, rec)
}

func (p *Pipeline) retireRecord(ctx context.Context, rec *models.FileRecord) error {
	vecIDs, err := p.Store.Chunks.VectorIDsForFile(ctx, rec.ID)
	if err != nil {
		return err
	}
	if len(vecIDs) > 0 {
		if err := p.Vectors.Delete(ctx, vecIDs); err != nil {
			return err
		}
	}
	if err := p.Text.DeleteFile(ctx, rec.ID); err != nil {
		return err
	}
	if err := p.Store.Files.Delete(ctx, rec.ID); err != nil {
		return err
	}
	p.Logger.Info("file retired", zap.String("path", rec.Path))
	return nil
}

func newRecord(path string) *models.FileRecord {
	ext := strings.ToLower(filepath.Ext(path))
	return &models.FileRecord{
		ID:          models.NewID(),
		Path:        path,
		Name:        filepath.Base(path),
		Extension:   ext,
		FileType:    models.FileTypeForExtension(ext),
		IndexStatus: models.IndexPending,
		Privacy:     models.PrivacyNormal,
	}
}

// classifyFSError maps filesystem errors onto retryable kinds. Sharing
// violations and busy files poll on a fixed delay; permission problems
// are terminal.
func classifyFSError(msg string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return faults.Wrap(faults.PermissionDenied, msg, err)
	}
	s := err.Error()
	if strings.Contains(s, "used by another process") ||
		strings.Contains(s, "resource busy") ||
		strings.Contains(s, "resource temporarily unavailable") {
		return faults.Wrap(faults.FileLocked, msg, err)
	}
	return faults.Wrap(faults.TransientIO, msg, err)
}
