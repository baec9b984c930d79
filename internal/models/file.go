package models

import "time"

// FileType is the coarse classification derived from the file extension.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeCode     FileType = "code"
	FileTypeArchive  FileType = "archive"
	FileTypeModel3D  FileType = "model3d"
	FileTypeOther    FileType = "other"
)

var extensionTypes = map[string]FileType{
	".pdf": FileTypeDocument, ".doc": FileTypeDocument, ".docx": FileTypeDocument,
	".odt": FileTypeDocument, ".rtf": FileTypeDocument, ".txt": FileTypeDocument,
	".md": FileTypeDocument, ".rst": FileTypeDocument, ".xlsx": FileTypeDocument,
	".pptx": FileTypeDocument, ".csv": FileTypeDocument,
	".jpg": FileTypeImage, ".jpeg": FileTypeImage, ".png": FileTypeImage,
	".gif": FileTypeImage, ".webp": FileTypeImage, ".bmp": FileTypeImage,
	".svg": FileTypeImage, ".heic": FileTypeImage,
	".mp4": FileTypeVideo, ".mkv": FileTypeVideo, ".mov": FileTypeVideo,
	".avi": FileTypeVideo, ".webm": FileTypeVideo,
	".mp3": FileTypeAudio, ".wav": FileTypeAudio, ".flac": FileTypeAudio,
	".ogg": FileTypeAudio, ".m4a": FileTypeAudio,
	".go": FileTypeCode, ".rs": FileTypeCode, ".py": FileTypeCode,
	".js": FileTypeCode, ".ts": FileTypeCode, ".c": FileTypeCode,
	".cpp": FileTypeCode, ".h": FileTypeCode, ".java": FileTypeCode,
	".rb": FileTypeCode, ".sh": FileTypeCode, ".sql": FileTypeCode,
	".zip": FileTypeArchive, ".tar": FileTypeArchive, ".gz": FileTypeArchive,
	".7z": FileTypeArchive, ".rar": FileTypeArchive,
	".obj": FileTypeModel3D, ".fbx": FileTypeModel3D, ".gltf": FileTypeModel3D,
	".glb": FileTypeModel3D, ".stl": FileTypeModel3D,
}

// FileTypeForExtension maps a lowercase extension (with dot) to a FileType.
func FileTypeForExtension(ext string) FileType {
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return FileTypeOther
}

// IndexStatus tracks a file record through the indexing pipeline.
// Transitions: pending -> indexing -> {indexed, failed, skipped}.
type IndexStatus string

const (
	IndexPending  IndexStatus = "pending"
	IndexIndexing IndexStatus = "indexing"
	IndexIndexed  IndexStatus = "indexed"
	IndexFailed   IndexStatus = "failed"
	IndexSkipped  IndexStatus = "skipped"
)

// PrivacyLevel controls relation generation and remote inference for a file.
// Private suppresses both.
type PrivacyLevel string

const (
	PrivacyNormal    PrivacyLevel = "normal"
	PrivacySensitive PrivacyLevel = "sensitive"
	PrivacyPrivate   PrivacyLevel = "private"
)

// FileIdentity is the platform-stable identity used for rename tracking:
// volume serial + file index on Windows, device + inode on Unix-like systems.
type FileIdentity struct {
	Volume uint64 `json:"volume"`
	Index  uint64 `json:"index"`
}

// Zero reports whether the identity is unset.
func (fi FileIdentity) Zero() bool { return fi.Volume == 0 && fi.Index == 0 }

// FileRecord is the durable metadata record for a monitored file.
type FileRecord struct {
	ID           string       `json:"id"`
	Path         string       `json:"path"` // absolute, unique
	Name         string       `json:"name"`
	Extension    string       `json:"extension"` // lowercase, with dot
	FileType     FileType     `json:"file_type"`
	Size         int64        `json:"size"`
	Fingerprint  string       `json:"fingerprint"` // BLAKE3 hex, recomputed on content change
	CreatedAt    time.Time    `json:"created_at"`
	ModifiedAt   time.Time    `json:"modified_at"`
	IndexedAt    time.Time    `json:"indexed_at"`
	AccessedAt   time.Time    `json:"accessed_at"`
	IndexStatus  IndexStatus  `json:"index_status"`
	Privacy      PrivacyLevel `json:"privacy"`
	Excluded     bool         `json:"excluded"`
	Identity     FileIdentity `json:"identity"`
	IndexError   string       `json:"index_error,omitempty"`
}

// CanTransitionTo reports whether the index-status transition is legal.
func (s IndexStatus) CanTransitionTo(next IndexStatus) bool {
	switch s {
	case IndexPending:
		return next == IndexIndexing
	case IndexIndexing:
		return next == IndexIndexed || next == IndexFailed || next == IndexSkipped
	case IndexIndexed, IndexFailed, IndexSkipped:
		// Re-index starts a fresh cycle.
		return next == IndexPending || next == IndexIndexing
	}
	return false
}
