package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metadata.db"), DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func testFile(path string) *models.FileRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.FileRecord{
		ID:          models.NewID(),
		Path:        path,
		Name:        filepath.Base(path),
		Extension:   filepath.Ext(path),
		FileType:    models.FileTypeForExtension(filepath.Ext(path)),
		Size:        100,
		Fingerprint: "abc123",
		CreatedAt:   now,
		ModifiedAt:  now,
		IndexStatus: models.IndexPending,
		Privacy:     models.PrivacyNormal,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applied, err := s.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if applied != 0 {
		t.Errorf("second Migrate applied %d migrations, want 0", applied)
	}

	history, err := s.MigrationHistory(ctx)
	if err != nil {
		t.Fatalf("MigrationHistory: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("got %d ledger rows, want 4", len(history))
	}
	for i, rec := range history {
		if rec.Version != i+1 {
			t.Errorf("ledger[%d].Version = %d, want %d", i, rec.Version, i+1)
		}
		if rec.Checksum == "" || rec.Name == "" {
			t.Errorf("ledger[%d] missing name or checksum: %+v", i, rec)
		}
	}
}

func TestFileCRUDAndIdentityLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFile("/home/user/docs/report.pdf")
	f.Identity = models.FileIdentity{Volume: 42, Index: 9001}
	if err := s.Files.Create(ctx, f); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Files.GetByPath(ctx, f.Path)
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if got.ID != f.ID || got.FileType != models.FileTypeDocument {
		t.Errorf("GetByPath = %+v", got)
	}
	if got.Identity != f.Identity {
		t.Errorf("Identity = %+v, want %+v", got.Identity, f.Identity)
	}

	byIdent, err := s.Files.FindByIdentity(ctx, f.Identity)
	if err != nil {
		t.Fatalf("FindByIdentity: %v", err)
	}
	if byIdent.ID != f.ID {
		t.Errorf("FindByIdentity.ID = %s, want %s", byIdent.ID, f.ID)
	}

	if err := s.Files.UpdatePath(ctx, f.ID, "/home/user/docs/renamed.pdf", "renamed.pdf", ".pdf"); err != nil {
		t.Fatalf("UpdatePath: %v", err)
	}
	moved, err := s.Files.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get after rename: %v", err)
	}
	if moved.Path != "/home/user/docs/renamed.pdf" || moved.Fingerprint != "abc123" {
		t.Errorf("rename lost data: %+v", moved)
	}

	if _, err := s.Files.FindByIdentity(ctx, models.FileIdentity{}); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("zero identity error kind = %v, want InvalidArgument", faults.KindOf(err))
	}
	if _, err := s.Files.Get(ctx, "missing"); faults.KindOf(err) != faults.NotFound {
		t.Errorf("missing file error kind = %v, want NotFound", faults.KindOf(err))
	}
}

func TestFileStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFile("/tmp/a.txt")
	if err := s.Files.Create(ctx, f); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Files.SetStatus(ctx, f.ID, models.IndexIndexed, ""); err == nil {
		t.Error("pending -> indexed should be rejected")
	}
	if err := s.Files.SetStatus(ctx, f.ID, models.IndexIndexing, ""); err != nil {
		t.Fatalf("pending -> indexing: %v", err)
	}
	if err := s.Files.SetStatus(ctx, f.ID, models.IndexIndexed, ""); err != nil {
		t.Fatalf("indexing -> indexed: %v", err)
	}
	got, _ := s.Files.Get(ctx, f.ID)
	if got.IndexedAt.IsZero() {
		t.Error("indexed_at not set on successful index")
	}
	if err := s.Files.SetStatus(ctx, f.ID, models.IndexPending, ""); err != nil {
		t.Fatalf("indexed -> pending (re-index): %v", err)
	}
}

func TestChunkReplaceForFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFile("/tmp/doc.md")
	if err := s.Files.Create(ctx, f); err != nil {
		t.Fatalf("Create file: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	mk := func(i int, text string) *models.ContentChunk {
		id := models.NewID()
		return &models.ContentChunk{
			ID: id, FileID: f.ID, Index: i, Kind: models.ChunkParagraph,
			Text: text, VectorID: models.PointID(id), CreatedAt: now,
			Location: models.ChunkLocation{ByteStart: i * 10, ByteEnd: i*10 + 9},
		}
	}

	first := []*models.ContentChunk{mk(0, "alpha"), mk(1, "beta")}
	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.Chunks.ReplaceForFile(ctx, tx, f.ID, first)
	}); err != nil {
		t.Fatalf("ReplaceForFile: %v", err)
	}

	second := []*models.ContentChunk{mk(0, "gamma")}
	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.Chunks.ReplaceForFile(ctx, tx, f.ID, second)
	}); err != nil {
		t.Fatalf("ReplaceForFile (second): %v", err)
	}

	got, err := s.Chunks.ListForFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListForFile: %v", err)
	}
	if len(got) != 1 || got[0].Text != "gamma" {
		t.Errorf("chunks after replace = %+v", got)
	}
}

func TestRelationUpsertRespectsFeedback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, b := testFile("/tmp/a.txt"), testFile("/tmp/b.txt")
	for _, f := range []*models.FileRecord{a, b} {
		if err := s.Files.Create(ctx, f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	rel := &models.FileRelation{
		ID: models.NewID(), SourceID: a.ID, TargetID: b.ID,
		Kind: models.RelContentSimilar, Strength: 0.7,
		Source: models.RelSourceAI, Feedback: models.FeedbackNone,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.Relations.Upsert(ctx, rel); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Automatic refresh updates strength while feedback is none.
	refresh := *rel
	refresh.ID = models.NewID()
	refresh.Strength = 0.9
	if err := s.Relations.Upsert(ctx, &refresh); err != nil {
		t.Fatalf("Upsert refresh: %v", err)
	}
	got, err := s.Relations.Find(ctx, a.ID, b.ID, models.RelContentSimilar)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Strength != 0.9 {
		t.Errorf("Strength = %v, want 0.9", got.Strength)
	}

	// Reject, then verify a refresh no longer overwrites.
	got.Feedback = models.FeedbackRejected
	got.RejectReason = "unrelated"
	if err := s.Relations.SetFeedback(ctx, got); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	refresh.Strength = 0.95
	if err := s.Relations.Upsert(ctx, &refresh); err != nil {
		t.Fatalf("Upsert after reject: %v", err)
	}
	got2, _ := s.Relations.Find(ctx, a.ID, b.ID, models.RelContentSimilar)
	if got2.Strength != 0.9 || got2.Feedback != models.FeedbackRejected {
		t.Errorf("rejected relation was overwritten: %+v", got2)
	}
	if got2.EffectiveStrength() != 0 {
		t.Errorf("EffectiveStrength = %v, want 0 for rejected", got2.EffectiveStrength())
	}

	// Rejected -> adjusted is forbidden.
	got2.Feedback = models.FeedbackAdjusted
	got2.UserStrength = 0.5
	if err := s.Relations.SetFeedback(ctx, got2); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("rejected -> adjusted error kind = %v, want InvalidArgument", faults.KindOf(err))
	}
}

func TestRelationDecay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, b, c := testFile("/tmp/a.txt"), testFile("/tmp/b.txt"), testFile("/tmp/c.txt")
	for _, f := range []*models.FileRecord{a, b, c} {
		if err := s.Files.Create(ctx, f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	now := time.Now().UTC().Truncate(time.Second)
	strong := &models.FileRelation{
		ID: models.NewID(), SourceID: a.ID, TargetID: b.ID,
		Kind: models.RelSameSession, Strength: 0.8,
		Source: models.RelSourceSession, Feedback: models.FeedbackNone,
		CreatedAt: now, UpdatedAt: now,
	}
	weak := &models.FileRelation{
		ID: models.NewID(), SourceID: a.ID, TargetID: c.ID,
		Kind: models.RelSameSession, Strength: 0.11,
		Source: models.RelSourceSession, Feedback: models.FeedbackNone,
		CreatedAt: now, UpdatedAt: now,
	}
	for _, rel := range []*models.FileRelation{strong, weak} {
		if err := s.Relations.Upsert(ctx, rel); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	dropped, err := s.Relations.DecayStrengths(ctx, models.RelSameSession, 0.5, 0.1)
	if err != nil {
		t.Fatalf("DecayStrengths: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	got, err := s.Relations.Find(ctx, a.ID, b.ID, models.RelSameSession)
	if err != nil {
		t.Fatalf("Find survivor: %v", err)
	}
	if got.Strength < 0.39 || got.Strength > 0.41 {
		t.Errorf("decayed strength = %v, want 0.4", got.Strength)
	}
}

func TestFileTagAttachIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFile("/tmp/a.txt")
	if err := s.Files.Create(ctx, f); err != nil {
		t.Fatalf("Create file: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	tag := &models.Tag{
		ID: models.NewID(), Name: "document", Kind: models.TagFileType,
		System: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.Tags.Create(ctx, tag); err != nil {
		t.Fatalf("Create tag: %v", err)
	}

	ft := &models.FileTag{
		ID: models.NewID(), FileID: f.ID, TagID: tag.ID,
		Source: models.TagSourceAI, Confidence: 0.6,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.FileTags.Attach(ctx, ft); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	ft2 := *ft
	ft2.ID = models.NewID()
	ft2.Confidence = 0.8
	if err := s.FileTags.Attach(ctx, &ft2); err != nil {
		t.Fatalf("Attach (repeat): %v", err)
	}

	links, err := s.FileTags.ListForFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("ListForFile: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	if links[0].Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", links[0].Confidence)
	}

	names, err := s.FileTags.TagNamesForFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("TagNamesForFile: %v", err)
	}
	if len(names) != 1 || names[0] != "document" {
		t.Errorf("TagNamesForFile = %v", names)
	}

	dup := &models.Tag{ID: models.NewID(), Name: "document", Kind: models.TagCustom, CreatedAt: now, UpdatedAt: now}
	if err := s.Tags.Create(ctx, dup); faults.KindOf(err) != faults.InvalidArgument {
		t.Errorf("duplicate tag name error kind = %v, want InvalidArgument", faults.KindOf(err))
	}
}

func TestListForTagZeroLimitIsUnbounded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	tag := &models.Tag{
		ID: models.NewID(), Name: "bulk", Kind: models.TagCustom,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.Tags.Create(ctx, tag); err != nil {
		t.Fatalf("Create tag: %v", err)
	}
	for i := 0; i < 5; i++ {
		f := testFile(fmt.Sprintf("/tmp/bulk-%d.txt", i))
		if err := s.Files.Create(ctx, f); err != nil {
			t.Fatalf("Create file: %v", err)
		}
		ft := &models.FileTag{
			ID: models.NewID(), FileID: f.ID, TagID: tag.ID,
			Source: models.TagSourceManual, CreatedAt: now, UpdatedAt: now,
		}
		if err := s.FileTags.Attach(ctx, ft); err != nil {
			t.Fatalf("Attach: %v", err)
		}
	}

	all, err := s.FileTags.ListForTag(ctx, tag.ID, 0)
	if err != nil {
		t.Fatalf("ListForTag: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("unbounded list = %d links, want 5", len(all))
	}
	capped, err := s.FileTags.ListForTag(ctx, tag.ID, 2)
	if err != nil {
		t.Fatalf("ListForTag capped: %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("capped list = %d links, want 2", len(capped))
	}
}

func TestUsageAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	month := MonthKey(time.Now())
	if err := s.Usage.Add(ctx, month, 1200, 0.0036); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Usage.Add(ctx, month, 800, 0.0024); err != nil {
		t.Fatalf("Add (second): %v", err)
	}

	u, err := s.Usage.Get(ctx, month)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.RequestCount != 2 || u.TokenCount != 2000 {
		t.Errorf("usage = %+v", u)
	}
	if u.CostUSD < 0.0059 || u.CostUSD > 0.0061 {
		t.Errorf("CostUSD = %v, want 0.006", u.CostUSD)
	}

	empty, err := s.Usage.Get(ctx, "1999-01")
	if err != nil {
		t.Fatalf("Get empty month: %v", err)
	}
	if empty.RequestCount != 0 {
		t.Errorf("empty month = %+v", empty)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFile("/tmp/a.txt")
	if err := s.Files.Create(ctx, f); err != nil {
		t.Fatalf("Create file: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	sess := &models.Session{ID: models.NewID(), StartedAt: now, LastActivityAt: now, Active: true}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}

	active, err := s.Sessions.ActiveSession(ctx)
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active.ID != sess.ID {
		t.Errorf("ActiveSession.ID = %s, want %s", active.ID, sess.ID)
	}

	if err := s.Sessions.RecordAccess(ctx, &models.SessionAccess{
		SessionID: sess.ID, FileID: f.ID, AccessedAt: now, Kind: models.AccessOpen,
	}); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	ids, err := s.Sessions.DistinctFiles(ctx, sess.ID)
	if err != nil {
		t.Fatalf("DistinctFiles: %v", err)
	}
	if len(ids) != 1 || ids[0] != f.ID {
		t.Errorf("DistinctFiles = %v", ids)
	}

	if err := s.Sessions.End(ctx, sess.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := s.Sessions.ActiveSession(ctx); faults.KindOf(err) != faults.NotFound {
		t.Errorf("ActiveSession after end error kind = %v, want NotFound", faults.KindOf(err))
	}
}

func TestDeleteFileCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := testFile("/tmp/a.txt")
	if err := s.Files.Create(ctx, f); err != nil {
		t.Fatalf("Create: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	chunk := &models.ContentChunk{
		ID: models.NewID(), FileID: f.ID, Index: 0,
		Kind: models.ChunkParagraph, Text: "hello", CreatedAt: now,
	}
	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.Chunks.ReplaceForFile(ctx, tx, f.ID, []*models.ContentChunk{chunk})
	}); err != nil {
		t.Fatalf("ReplaceForFile: %v", err)
	}

	if err := s.Files.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := s.Chunks.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("chunks after file delete = %d, want 0", n)
	}
}
