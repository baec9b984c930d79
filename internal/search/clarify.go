package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neuralfs/neuralfs/internal/models"
)

// clarifications builds disambiguation options when scores bunch too
// tightly to rank confidently: intent split, file-type partitions, and
// time-range partitions with estimated counts.
func (e *Engine) clarifications(ctx context.Context, results []*models.SearchResult) []*models.Clarification {
	total := len(results)
	options := []*models.Clarification{
		{Label: "Looking for a specific file", Intent: models.IntentFindFile, EstimatedCount: total},
		{Label: "Searching inside file contents", Intent: models.IntentFindContent, EstimatedCount: total},
	}

	byType := make(map[models.FileType]int)
	var within7, within30 int
	now := time.Now()
	for i, r := range results {
		if i >= maxCandidates {
			break
		}
		byType[r.FileType]++
		rec, err := e.store.Files.Get(ctx, r.FileID)
		if err != nil {
			continue
		}
		age := now.Sub(rec.ModifiedAt)
		if age <= 7*24*time.Hour {
			within7++
		}
		if age <= 30*24*time.Hour {
			within30++
		}
	}

	types := make([]models.FileType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if byType[types[i]] != byType[types[j]] {
			return byType[types[i]] > byType[types[j]]
		}
		return types[i] < types[j]
	})
	for i, t := range types {
		if i >= 3 {
			break
		}
		options = append(options, &models.Clarification{
			Label:          fmt.Sprintf("Only %s files", t),
			FileType:       t,
			EstimatedCount: byType[t],
		})
	}

	if within7 > 0 {
		options = append(options, &models.Clarification{
			Label:          "Modified in the last 7 days",
			ModifiedWithin: "7d",
			EstimatedCount: within7,
		})
	}
	if within30 > within7 {
		options = append(options, &models.Clarification{
			Label:          "Modified in the last 30 days",
			ModifiedWithin: "30d",
			EstimatedCount: within30,
		})
	}
	return options
}
