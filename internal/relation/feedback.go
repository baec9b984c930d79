package relation

import (
	"context"
	"time"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// Confirm marks a relation user-confirmed.
func (e *Engine) Confirm(ctx context.Context, relationID string) error {
	rel, err := e.store.Relations.Get(ctx, relationID)
	if err != nil {
		return err
	}
	rel.Feedback = models.FeedbackConfirmed
	rel.RejectReason, rel.BlockSimilar = "", false
	return e.store.Relations.SetFeedback(ctx, rel)
}

// Reject marks a relation rejected. With blockSimilar a file-pair block
// rule is recorded so the pair is never auto-related again.
func (e *Engine) Reject(ctx context.Context, relationID, reason string, blockSimilar bool) error {
	rel, err := e.store.Relations.Get(ctx, relationID)
	if err != nil {
		return err
	}
	rel.Feedback = models.FeedbackRejected
	rel.RejectReason = reason
	rel.BlockSimilar = blockSimilar
	if err := e.store.Relations.SetFeedback(ctx, rel); err != nil {
		return err
	}
	if !blockSimilar {
		return nil
	}
	return e.store.BlockRules.Create(ctx, &models.BlockRule{
		ID:        models.NewID(),
		Kind:      models.BlockFilePair,
		FileA:     rel.SourceID,
		FileB:     rel.TargetID,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	})
}

// Adjust overrides a relation's strength with a user value. Adjusting a
// rejected relation is forbidden; the store enforces the transition.
func (e *Engine) Adjust(ctx context.Context, relationID string, userStrength float64) error {
	if userStrength < 0 || userStrength > 1 {
		return faults.New(faults.InvalidArgument, "strength must be in [0,1]")
	}
	rel, err := e.store.Relations.Get(ctx, relationID)
	if err != nil {
		return err
	}
	rel.OriginalStrength = rel.Strength
	rel.UserStrength = userStrength
	rel.Feedback = models.FeedbackAdjusted
	return e.store.Relations.SetFeedback(ctx, rel)
}

// RejectScope selects what a batch rejection covers.
type RejectScope string

const (
	ScopePair      RejectScope = "pair"        // just this pair
	ScopeFileToTag RejectScope = "file-to-tag" // this file to anything with the target's tag
	ScopeTagPair   RejectScope = "tag-pair"    // anything with tag A to anything with tag B
)

// BatchReject rejects a relation and records the block rule matching
// the scope, suppressing future automatic relations in that scope.
func (e *Engine) BatchReject(ctx context.Context, relationID string, scope RejectScope, tagA, tagB string) error {
	rel, err := e.store.Relations.Get(ctx, relationID)
	if err != nil {
		return err
	}
	rel.Feedback = models.FeedbackRejected
	rel.BlockSimilar = true
	if err := e.store.Relations.SetFeedback(ctx, rel); err != nil {
		return err
	}

	rule := &models.BlockRule{
		ID:        models.NewID(),
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}
	switch scope {
	case ScopePair:
		rule.Kind = models.BlockFilePair
		rule.FileA, rule.FileB = rel.SourceID, rel.TargetID
	case ScopeFileToTag:
		if tagA == "" {
			return faults.New(faults.InvalidArgument, "file-to-tag scope requires a tag")
		}
		rule.Kind = models.BlockFileToTag
		rule.FileA, rule.TagA = rel.SourceID, tagA
	case ScopeTagPair:
		if tagA == "" || tagB == "" {
			return faults.New(faults.InvalidArgument, "tag-pair scope requires two tags")
		}
		rule.Kind = models.BlockTagPair
		rule.TagA, rule.TagB = tagA, tagB
	default:
		return faults.Newf(faults.InvalidArgument, "unknown reject scope: %s", scope)
	}
	return e.store.BlockRules.Create(ctx, rule)
}
