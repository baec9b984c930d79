package relation

import (
	"context"
	"time"

	"github.com/neuralfs/neuralfs/internal/models"
)

// blockOrder fixes rule evaluation order.
var blockOrder = []models.BlockRuleKind{
	models.BlockFilePair,
	models.BlockFileToTag,
	models.BlockTagPair,
	models.BlockFileAllAI,
	models.BlockRelationKind,
}

func (e *Engine) activeRules(ctx context.Context) ([]*models.BlockRule, error) {
	rules, err := e.store.BlockRules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []*models.BlockRule
	for _, r := range rules {
		if r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// blocked reports whether any active rule suppresses an ai-generated
// relation between the two files. Rules are checked kind by kind in
// the fixed order; the first match wins.
func (e *Engine) blocked(ctx context.Context, rules []*models.BlockRule, sourceID, targetID string, kind models.RelationKind) (bool, error) {
	if len(rules) == 0 {
		return false, nil
	}

	// tag ids are only fetched when a tag-scoped rule exists
	var sourceTags, targetTags map[string]bool
	needTags := false
	for _, r := range rules {
		if r.Kind == models.BlockFileToTag || r.Kind == models.BlockTagPair {
			needTags = true
			break
		}
	}
	if needTags {
		var err error
		if sourceTags, err = e.tagSet(ctx, sourceID); err != nil {
			return false, err
		}
		if targetTags, err = e.tagSet(ctx, targetID); err != nil {
			return false, err
		}
	}

	for _, ruleKind := range blockOrder {
		for _, r := range rules {
			if r.Kind != ruleKind {
				continue
			}
			switch ruleKind {
			case models.BlockFilePair:
				if (r.FileA == sourceID && r.FileB == targetID) ||
					(r.FileA == targetID && r.FileB == sourceID) {
					return true, nil
				}
			case models.BlockFileToTag:
				if (r.FileA == sourceID && targetTags[r.TagA]) ||
					(r.FileA == targetID && sourceTags[r.TagA]) {
					return true, nil
				}
			case models.BlockTagPair:
				if (sourceTags[r.TagA] && targetTags[r.TagB]) ||
					(sourceTags[r.TagB] && targetTags[r.TagA]) {
					return true, nil
				}
			case models.BlockFileAllAI:
				if r.FileA == sourceID || r.FileA == targetID {
					return true, nil
				}
			case models.BlockRelationKind:
				if r.RelationKind == kind {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (e *Engine) tagSet(ctx context.Context, fileID string) (map[string]bool, error) {
	links, err := e.store.FileTags.ListForFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(links))
	for _, l := range links {
		if !l.Rejected {
			out[l.TagID] = true
		}
	}
	return out, nil
}
