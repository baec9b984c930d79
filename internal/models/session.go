package models

import "time"

// Session is a bounded window of user activity used to derive
// same-session co-occurrence relations.
type Session struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Active         bool      `json:"active"`
}

// AccessKind classifies how a file was touched within a session.
type AccessKind string

const (
	AccessOpen         AccessKind = "open"
	AccessPreview      AccessKind = "preview"
	AccessSearchResult AccessKind = "search-result"
)

// SessionAccess records one file access within a session.
type SessionAccess struct {
	SessionID  string     `json:"session_id"`
	FileID     string     `json:"file_id"`
	AccessedAt time.Time  `json:"accessed_at"`
	Kind       AccessKind `json:"kind"`
}

// SessionEvent is a durable event row for session analysis.
type SessionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	FileID    string    `json:"file_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}
