// Package vector provides the embedded vector store: approximate
// nearest-neighbor search over normalized embeddings with typed payloads.
package vector

import (
	"context"
	"math"
	"strings"
)

// Payload is the metadata carried with each point, used for filtered
// search without a metadata round trip.
type Payload struct {
	FileID     string
	ChunkID    string
	FileType   string
	Privacy    string
	Path       string
	ModifiedAt int64 // unix seconds
}

// Point is one stored embedding.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Filter restricts search to points whose payload matches. Zero fields
// match everything.
type Filter struct {
	FileTypes      []string
	PathPrefix     string
	ModifiedAfter  int64
	ModifiedBefore int64
	ExcludePrivacy []string
	ExcludeFileIDs map[string]bool
}

// Matches reports whether p passes the filter.
func (f *Filter) Matches(p *Payload) bool {
	if f == nil {
		return true
	}
	if len(f.FileTypes) > 0 {
		ok := false
		for _, t := range f.FileTypes {
			if p.FileType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.PathPrefix != "" && !strings.HasPrefix(p.Path, f.PathPrefix) {
		return false
	}
	if f.ModifiedAfter != 0 && p.ModifiedAt < f.ModifiedAfter {
		return false
	}
	if f.ModifiedBefore != 0 && p.ModifiedAt > f.ModifiedBefore {
		return false
	}
	for _, priv := range f.ExcludePrivacy {
		if p.Privacy == priv {
			return false
		}
	}
	if f.ExcludeFileIDs != nil && f.ExcludeFileIDs[p.FileID] {
		return false
	}
	return true
}

// Result is one search hit. Score is cosine similarity in [0,1].
type Result struct {
	ID      uint64
	Score   float64
	Payload Payload
}

// Store is the vector store contract.
type Store interface {
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]Result, error)
	Delete(ctx context.Context, ids []uint64) error
	Get(id uint64) (*Point, bool)
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// Normalize scales v to unit length in place and returns it. A zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Cosine returns cosine similarity of two normalized vectors, clamped
// to [0,1]. Graph navigation uses the raw value; clamping there would
// flatten the ordering among dissimilar points.
func Cosine(a, b []float32) float64 {
	return math.Max(0, math.Min(1, dot(a, b)))
}

// dot is the raw inner product, in [-1,1] for unit vectors.
func dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i] * b[i])
	}
	return sum
}
