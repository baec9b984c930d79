package tags

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/embedding"
	"github.com/neuralfs/neuralfs/internal/models"
)

// stopwords excluded from content tag extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"has": true, "have": true, "was": true, "were": true, "will": true,
	"with": true, "this": true, "that": true, "from": true, "they": true,
	"been": true, "their": true, "there": true, "which": true, "would": true,
	"about": true, "into": true, "than": true, "them": true, "then": true,
	"some": true, "what": true, "when": true, "where": true, "also": true,
	"的": true, "了": true, "和": true, "是": true, "在": true,
	"我": true, "有": true, "他": true, "这": true, "个": true,
}

// AutoTagResult is the outcome of tagging one indexed file.
type AutoTagResult struct {
	Assigned  []models.TagSuggestion
	Suggested []models.TagSuggestion // sensitive: needs user confirmation
}

// Suggest computes scored tag candidates for a file from its extension
// and chunk contents. Suppression strikes lower confidence; sensitive
// names are flagged, never filtered here.
func (s *Service) Suggest(ctx context.Context, file *models.FileRecord, chunks []*models.ContentChunk) ([]models.TagSuggestion, error) {
	var out []models.TagSuggestion

	typeName := string(models.FileTypeForExtension(file.Extension))
	out = append(out, models.TagSuggestion{
		Name:       typeName,
		Kind:       models.TagFileType,
		Confidence: 1.0,
		Sensitive:  s.lex.Sensitive(typeName),
	})

	counts := make(map[string]int)
	maxCount := 0
	for _, c := range chunks {
		for _, tok := range contentTokens(c.Text) {
			if !keywordToken(tok) {
				continue
			}
			counts[tok]++
			if counts[tok] > maxCount {
				maxCount = counts[tok]
			}
		}
	}

	type scored struct {
		name  string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, scored{name, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})

	for _, r := range ranked {
		if len(out) > s.maxContentTags {
			break
		}
		conf := 0.9 * float64(r.count) / float64(maxCount)
		strikes, err := s.store.Tags.SuppressionStrikes(ctx, r.name)
		if err != nil {
			return nil, err
		}
		if strikes > 0 {
			conf /= float64(1 + strikes)
		}
		sug := models.TagSuggestion{
			Name:       r.name,
			Kind:       models.TagCategory,
			Confidence: conf,
			Sensitive:  s.lex.Sensitive(r.name),
		}
		if t, err := s.store.Tags.GetByName(ctx, r.name); err == nil {
			sug.TagID = t.ID
		}
		out = append(out, sug)
	}
	return out, nil
}

// AutoTag tags an indexed file: the file-type tag plus content tags
// above the confidence threshold are attached as ai-generated;
// sensitive candidates are returned as suggestions only. Every file
// gets at least the file-type tag.
func (s *Service) AutoTag(ctx context.Context, file *models.FileRecord, chunks []*models.ContentChunk) (*AutoTagResult, error) {
	suggestions, err := s.Suggest(ctx, file, chunks)
	if err != nil {
		return nil, err
	}

	res := &AutoTagResult{}
	for _, sug := range suggestions {
		if sug.Sensitive {
			res.Suggested = append(res.Suggested, sug)
			continue
		}
		if sug.Kind != models.TagFileType && sug.Confidence < s.minConfidence {
			continue
		}
		t, err := s.getOrCreate(ctx, sug.Name, sug.Kind)
		if err != nil {
			return res, err
		}
		now := time.Now().UTC()
		ft := &models.FileTag{
			ID:         models.NewID(),
			FileID:     file.ID,
			TagID:      t.ID,
			Source:     models.TagSourceAI,
			Confidence: sug.Confidence,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.store.FileTags.Attach(ctx, ft); err != nil {
			return res, err
		}
		if err := s.store.Tags.AdjustUsage(ctx, t.ID, 1); err != nil {
			return res, err
		}
		sug.TagID = t.ID
		res.Assigned = append(res.Assigned, sug)
	}
	return res, nil
}

// HandleIndexed is the post-index hook: auto-tags the file and logs
// failures without failing the indexing task.
func (s *Service) HandleIndexed(ctx context.Context, file *models.FileRecord, chunks []*models.ContentChunk) {
	res, err := s.AutoTag(ctx, file, chunks)
	if err != nil {
		s.logger.Warn("auto-tag failed",
			zap.String("path", file.Path), zap.Error(err))
		return
	}
	s.logger.Debug("file auto-tagged",
		zap.String("path", file.Path),
		zap.Int("assigned", len(res.Assigned)),
		zap.Int("suggested", len(res.Suggested)))
}

// contentTokens lowercases and tokenizes text. Single Han runes carry
// too little meaning for a tag, so consecutive Han tokens are joined
// into bigrams.
func contentTokens(text string) []string {
	raw := embedding.SplitTokens(strings.ToLower(text))
	var out []string
	for i := 0; i < len(raw); i++ {
		if !isHanToken(raw[i]) {
			out = append(out, raw[i])
			continue
		}
		if i+1 < len(raw) && isHanToken(raw[i+1]) {
			out = append(out, raw[i]+raw[i+1])
		}
	}
	return out
}

func isHanToken(tok string) bool {
	r, _ := utf8.DecodeRuneInString(tok)
	return unicode.Is(unicode.Han, r)
}

// keywordToken filters extraction candidates: latin tokens need at
// least 3 letters and no digits, stopwords are dropped.
func keywordToken(tok string) bool {
	if stopwords[tok] {
		return false
	}
	if isHanToken(tok) {
		return utf8.RuneCountInString(tok) >= 2
	}
	if utf8.RuneCountInString(tok) < 3 {
		return false
	}
	for _, r := range tok {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
