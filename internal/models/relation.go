package models

import "time"

// RelationKind classifies a file-to-file relation.
type RelationKind string

const (
	RelContentSimilar RelationKind = "content-similar"
	RelSameSession    RelationKind = "same-session"
	RelSameProject    RelationKind = "same-project"
	RelSameAuthor     RelationKind = "same-author"
	RelReference      RelationKind = "reference"
	RelDerivative     RelationKind = "derivative"
	RelWorkflow       RelationKind = "workflow"
	RelUserDefined    RelationKind = "user-defined"
)

// RelationSource records how a relation was created.
type RelationSource string

const (
	RelSourceAI       RelationSource = "ai-generated"
	RelSourceSession  RelationSource = "session-tracking"
	RelSourceManual   RelationSource = "user-manual"
	RelSourceMetadata RelationSource = "metadata-extract"
)

// FeedbackState is the user-feedback state of a relation. Rejected and
// Adjusted are terminal from the engine's perspective: the engine never
// modifies a user-edited relation automatically.
type FeedbackState string

const (
	FeedbackNone      FeedbackState = "none"
	FeedbackConfirmed FeedbackState = "confirmed"
	FeedbackRejected  FeedbackState = "rejected"
	FeedbackAdjusted  FeedbackState = "adjusted"
)

// FileRelation links two files. (SourceID, TargetID, Kind) is unique.
type FileRelation struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id"`
	TargetID  string         `json:"target_id"`
	Kind      RelationKind   `json:"kind"`
	Strength  float64        `json:"strength"` // [0,1]
	Source    RelationSource `json:"source"`
	Feedback  FeedbackState  `json:"feedback"`
	// Feedback detail. RejectReason/BlockSimilar apply to rejected;
	// OriginalStrength/UserStrength to adjusted.
	RejectReason     string    `json:"reject_reason,omitempty"`
	BlockSimilar     bool      `json:"block_similar,omitempty"`
	OriginalStrength float64   `json:"original_strength,omitempty"`
	UserStrength     float64   `json:"user_strength,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EffectiveStrength is the strength used for ranking: 0 when rejected,
// the user's value when adjusted.
func (r *FileRelation) EffectiveStrength() float64 {
	switch r.Feedback {
	case FeedbackRejected:
		return 0
	case FeedbackAdjusted:
		return r.UserStrength
	default:
		return r.Strength
	}
}

// BlockRuleKind selects what a block rule suppresses. Rules are evaluated
// in the order the constants are declared.
type BlockRuleKind string

const (
	BlockFilePair     BlockRuleKind = "file-pair"
	BlockFileToTag    BlockRuleKind = "file-to-tag"
	BlockTagPair      BlockRuleKind = "tag-pair"
	BlockFileAllAI    BlockRuleKind = "file-all-ai"
	BlockRelationKind BlockRuleKind = "relation-kind"
)

// BlockRule suppresses creation of ai-generated relations matching its
// detail. Expired rules are inactive.
type BlockRule struct {
	ID        string        `json:"id"`
	Kind      BlockRuleKind `json:"kind"`
	// Typed detail; which fields apply depends on Kind.
	FileA        string       `json:"file_a,omitempty"`
	FileB        string       `json:"file_b,omitempty"`
	TagA         string       `json:"tag_a,omitempty"`
	TagB         string       `json:"tag_b,omitempty"`
	RelationKind RelationKind `json:"relation_kind,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at,omitempty"`
	Active       bool         `json:"active"`
}

// ActiveAt reports whether the rule is in force at t.
func (b *BlockRule) ActiveAt(t time.Time) bool {
	if !b.Active {
		return false
	}
	if !b.ExpiresAt.IsZero() && t.After(b.ExpiresAt) {
		return false
	}
	return true
}

// RelationGraph is a depth-bounded neighborhood around a center file.
type RelationGraph struct {
	Center string          `json:"center"`
	Nodes  []string        `json:"nodes"`
	Edges  []*FileRelation `json:"edges"`
	Depth  int             `json:"depth"`
}
