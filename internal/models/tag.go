package models

import "time"

// TagKind classifies a tag.
type TagKind string

const (
	TagCategory  TagKind = "category"
	TagFileType  TagKind = "file-type"
	TagProject   TagKind = "project"
	TagStatus    TagKind = "status"
	TagCustom    TagKind = "custom"
	TagAutoGen   TagKind = "auto-generated"
)

// MaxTagDepth is the maximum root-to-leaf depth of the tag hierarchy.
const MaxTagDepth = 3

// Tag is a named label, optionally part of a hierarchy of depth <= 3.
// Name is canonical and unique (case-sensitive); DisplayNames maps locale
// to a localized label.
type Tag struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	DisplayNames map[string]string `json:"display_names,omitempty"`
	ParentID     string            `json:"parent_id,omitempty"`
	Kind         TagKind           `json:"kind"`
	Color        string            `json:"color,omitempty"`
	Icon         string            `json:"icon,omitempty"`
	System       bool              `json:"system"`
	UsageCount   int64             `json:"usage_count"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TagSource records how a file-tag relation came to exist.
type TagSource string

const (
	TagSourceManual   TagSource = "manual"
	TagSourceAI       TagSource = "ai-generated"
	TagSourceInherit  TagSource = "inherited"
	TagSourceImported TagSource = "imported"
)

// FileTag links a file to a tag. (FileID, TagID) is unique. Confirmed and
// Rejected are mutually exclusive; Confidence is required when the source
// is ai-generated.
type FileTag struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	TagID      string    `json:"tag_id"`
	Source     TagSource `json:"source"`
	Confidence float64   `json:"confidence,omitempty"` // [0,1]
	Confirmed  bool      `json:"confirmed"`
	Rejected   bool      `json:"rejected"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TagSuggestion is a scored candidate tag for a file. Sensitive suggestions
// are never auto-confirmed.
type TagSuggestion struct {
	TagID      string  `json:"tag_id,omitempty"` // empty when the tag does not exist yet
	Name       string  `json:"name"`
	Kind       TagKind `json:"kind"`
	Confidence float64 `json:"confidence"`
	Sensitive  bool    `json:"sensitive"`
}
