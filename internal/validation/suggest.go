package validation

import (
	"sort"

	"github.com/HendryAvila/trellis/internal/object"
	"github.com/hbollon/go-edlib"
)

const (
	maxSuggestions      = 3
	suggestionThreshold = 0.8
)

// suggest returns up to three known ids that look like ref, best first.
func suggest(ref string, known []string) []string {
	type scored struct {
		id    string
		score float32
	}
	target := object.CleanID(ref)
	var hits []scored
	for _, id := range known {
		score, err := edlib.StringsSimilarity(target, object.CleanID(id), edlib.JaroWinkler)
		if err != nil || score < suggestionThreshold {
			continue
		}
		hits = append(hits, scored{id: id, score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > maxSuggestions {
		hits = hits[:maxSuggestions]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out
}
