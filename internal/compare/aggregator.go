// Package compare reduces a multi-model comparison to a ranked view with
// one deterministic best model.
package compare

import (
	"sort"

	"go-analysis-console/pkg/models"
)

// Ranking is the aggregated view of a comparison.
type Ranking struct {
	// Entries keep the order of the service response.
	Entries        []models.ComparisonEntry
	Best           string
	BestConfidence float64
}

// Rank scans entries in order and keeps a running maximum of
// TopConfidence starting at zero. An entry becomes best only when it is
// strictly greater, so ties go to the earliest entry and a comparison
// whose confidences are all zero has no best model.
func Rank(entries []models.ComparisonEntry) Ranking {
	r := Ranking{Entries: entries}
	for _, e := range entries {
		if e.Result.TopConfidence > r.BestConfidence {
			r.Best = e.Model
			r.BestConfidence = e.Result.TopConfidence
		}
	}
	return r
}

// Apply ranks a comparison result in place and returns the ranking.
func Apply(c *models.ComparisonResult) Ranking {
	r := Rank(c.PerModel)
	c.Best = r.Best
	return r
}

// Empty reports the neutral "no results" state.
func (r Ranking) Empty() bool { return len(r.Entries) == 0 }

func (r Ranking) HasBest() bool { return r.Best != "" }

func (r Ranking) IsBest(model string) bool { return r.HasBest() && r.Best == model }

// Sorted returns the entries by descending confidence. Equal confidences
// keep response order, so the best model always comes first.
func (r Ranking) Sorted() []models.ComparisonEntry {
	out := make([]models.ComparisonEntry, len(r.Entries))
	copy(out, r.Entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Result.TopConfidence > out[j].Result.TopConfidence
	})
	return out
}
