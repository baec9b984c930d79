package tags

import (
	"context"

	"github.com/neuralfs/neuralfs/internal/faults"
	"github.com/neuralfs/neuralfs/internal/models"
)

// Command ops accepted by Apply.
const (
	OpConfirm   = "confirm"
	OpReject    = "reject"
	OpAdd       = "add"
	OpRemove    = "remove"
	OpCreate    = "create"
	OpMerge     = "merge"
	OpRename    = "rename"
	OpDelete    = "delete"
	OpSetParent = "set-parent"
)

// Command is one user correction. Each op is idempotent: repeating a
// command that already took effect succeeds without change.
type Command struct {
	Op           string         `json:"op"`
	FileID       string         `json:"file_id,omitempty"`
	TagID        string         `json:"tag_id,omitempty"`
	TagName      string         `json:"tag_name,omitempty"`
	NewName      string         `json:"new_name,omitempty"`
	TargetTagID  string         `json:"target_tag_id,omitempty"`
	ParentID     string         `json:"parent_id,omitempty"`
	Kind         models.TagKind `json:"kind,omitempty"`
	BlockSimilar bool           `json:"block_similar,omitempty"`
}

// Apply executes one correction command.
func (s *Service) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case OpConfirm:
		return s.confirm(ctx, cmd.FileID, cmd.TagID)
	case OpReject:
		return s.reject(ctx, cmd.FileID, cmd.TagID, cmd.BlockSimilar)
	case OpAdd:
		_, err := s.AddToFile(ctx, cmd.FileID, cmd.TagName, models.TagSourceManual)
		return err
	case OpRemove:
		return s.RemoveFromFile(ctx, cmd.FileID, cmd.TagID)
	case OpCreate:
		return s.createIdempotent(ctx, cmd)
	case OpMerge:
		return s.mergeIdempotent(ctx, cmd.TagID, cmd.TargetTagID)
	case OpRename:
		return s.Rename(ctx, cmd.TagID, cmd.NewName)
	case OpDelete:
		err := s.Delete(ctx, cmd.TagID)
		if faults.KindOf(err) == faults.NotFound {
			return nil
		}
		return err
	case OpSetParent:
		return s.SetParent(ctx, cmd.TagID, cmd.ParentID)
	default:
		return faults.Newf(faults.InvalidArgument, "unknown tag command: %s", cmd.Op)
	}
}

// ApplyBatch executes commands in order, stopping at the first failure.
// Returns the number applied.
func (s *Service) ApplyBatch(ctx context.Context, cmds []Command) (int, error) {
	for i, cmd := range cmds {
		if err := s.Apply(ctx, cmd); err != nil {
			return i, err
		}
	}
	return len(cmds), nil
}

func (s *Service) confirm(ctx context.Context, fileID, tagID string) error {
	return s.store.FileTags.SetFeedback(ctx, fileID, tagID, true, false)
}

// reject marks the link rejected; with blockSimilar the tag name gains
// a suppression strike that lowers its future auto-tag confidence.
// Rejecting an already-rejected link adds no further strikes.
func (s *Service) reject(ctx context.Context, fileID, tagID string, blockSimilar bool) error {
	links, err := s.store.FileTags.ListForFile(ctx, fileID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.TagID == tagID && l.Rejected {
			return nil
		}
	}
	if err := s.store.FileTags.SetFeedback(ctx, fileID, tagID, false, true); err != nil {
		return err
	}
	if !blockSimilar {
		return nil
	}
	t, err := s.store.Tags.Get(ctx, tagID)
	if err != nil {
		return err
	}
	return s.store.Tags.AddSuppression(ctx, t.Name)
}

// createIdempotent succeeds when a tag with the name already exists.
func (s *Service) createIdempotent(ctx context.Context, cmd Command) error {
	if _, err := s.store.Tags.GetByName(ctx, Normalize(cmd.TagName)); err == nil {
		return nil
	}
	kind := cmd.Kind
	if kind == "" {
		kind = models.TagCustom
	}
	return s.Create(ctx, &models.Tag{Name: cmd.TagName, Kind: kind, ParentID: cmd.ParentID})
}

// mergeIdempotent treats a vanished source as already merged.
func (s *Service) mergeIdempotent(ctx context.Context, sourceID, targetID string) error {
	err := s.Merge(ctx, sourceID, targetID)
	if faults.KindOf(err) == faults.NotFound {
		if _, tErr := s.store.Tags.Get(ctx, targetID); tErr == nil {
			return nil
		}
	}
	return err
}
