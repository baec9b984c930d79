// Package models defines the core entities: file records, content chunks,
// tags, relations, sessions, and index tasks.
package models

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewID returns a time-ordered 128-bit identifier (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// PointID derives the unsigned 64-bit vector point id from an entity id.
// The first 8 bytes of the UUID are time-ordered, so point ids inherit
// rough insertion order.
func PointID(id string) uint64 {
	u, err := uuid.Parse(id)
	if err != nil {
		// Non-UUID ids (tests, legacy) hash via FNV-1a.
		const offset64 = 14695981039346656037
		const prime64 = 1099511628211
		var h uint64 = offset64
		for i := 0; i < len(id); i++ {
			h ^= uint64(id[i])
			h *= prime64
		}
		return h
	}
	return binary.BigEndian.Uint64(u[:8])
}
