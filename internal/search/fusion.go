package search

import (
	"sort"

	"github.com/neuralfs/neuralfs/internal/models"
)

// sourceHits is one retrieval source's per-file evidence: best score and
// the chunk that produced it.
type sourceHits struct {
	scores map[string]float64
	chunks map[string]string
}

func newSourceHits() *sourceHits {
	return &sourceHits{
		scores: make(map[string]float64),
		chunks: make(map[string]string),
	}
}

// add keeps the best-scoring chunk per file.
func (s *sourceHits) add(fileID, chunkID string, score float64) {
	if prev, ok := s.scores[fileID]; !ok || score > prev {
		s.scores[fileID] = score
		s.chunks[fileID] = chunkID
	}
}

// normalize rescales scores to [0,1] by min-max so each source
// contributes comparably regardless of its native score range. A single
// hit maps to 1.
func (s *sourceHits) normalize() {
	if len(s.scores) == 0 {
		return
	}
	min, max := 0.0, 0.0
	first := true
	for _, v := range s.scores {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min
	for id, v := range s.scores {
		if span == 0 {
			s.scores[id] = 1
		} else {
			s.scores[id] = (v - min) / span
		}
	}
}

// fused is a per-file combined score before boosts.
type fused struct {
	FileID  string
	Score   float64
	ChunkID string
	Sources []models.ResultSource
}

// fuse combines the two sources with the given weights. Files present in
// only one source keep that source's weighted score.
func fuse(vec, bm25 *sourceHits, wVec, wBM25 float64) []*fused {
	byFile := make(map[string]*fused)
	for fileID, score := range vec.scores {
		byFile[fileID] = &fused{
			FileID:  fileID,
			Score:   wVec * score,
			ChunkID: vec.chunks[fileID],
			Sources: []models.ResultSource{models.SourceVector},
		}
	}
	for fileID, score := range bm25.scores {
		if f, ok := byFile[fileID]; ok {
			f.Score += wBM25 * score
			f.Sources = append(f.Sources, models.SourceBM25)
			continue
		}
		byFile[fileID] = &fused{
			FileID:  fileID,
			Score:   wBM25 * score,
			ChunkID: bm25.chunks[fileID],
			Sources: []models.ResultSource{models.SourceBM25},
		}
	}
	out := make([]*fused, 0, len(byFile))
	for _, f := range byFile {
		out = append(out, f)
	}
	sortFused(out)
	return out
}

// sortFused orders by score descending, ties by file id ascending.
func sortFused(results []*fused) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FileID < results[j].FileID
	})
}
