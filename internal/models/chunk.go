package models

import "time"

// ChunkKind is the structural role of a content chunk.
type ChunkKind string

const (
	ChunkParagraph   ChunkKind = "paragraph"
	ChunkHeading     ChunkKind = "heading"
	ChunkCodeBlock   ChunkKind = "code-block"
	ChunkTable       ChunkKind = "table"
	ChunkImageRegion ChunkKind = "image-region"
	ChunkCaption     ChunkKind = "caption"
)

// BoundingBox is a normalized [0,1] region within a page or image.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ChunkLocation pins a chunk to its place in the source document.
// Byte offsets are always set; line range, page, and bounding box are
// format-dependent.
type ChunkLocation struct {
	ByteStart int          `json:"byte_start"`
	ByteEnd   int          `json:"byte_end"`
	LineStart int          `json:"line_start,omitempty"`
	LineEnd   int          `json:"line_end,omitempty"`
	Page      int          `json:"page,omitempty"`
	Box       *BoundingBox `json:"box,omitempty"`
}

// ContentChunk is a semantic segment of a file with its own vector point.
// (FileID, Index) is unique per file; Index is monotonically increasing
// from 0.
type ContentChunk struct {
	ID        string        `json:"id"`
	FileID    string        `json:"file_id"`
	Index     int           `json:"chunk_index"`
	Kind      ChunkKind     `json:"kind"`
	Text      string        `json:"text"`
	Location  ChunkLocation `json:"location"`
	VectorID  uint64        `json:"vector_id"`
	CreatedAt time.Time     `json:"created_at"`
}

// ChunkDraft is parser output before ids and vectors are assigned.
type ChunkDraft struct {
	Kind     ChunkKind
	Text     string
	Location ChunkLocation
}
