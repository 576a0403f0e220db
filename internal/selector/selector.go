// Package selector picks the next item to administer.
//
// Candidates are scored by Fisher information at the current ability, optionally
// damped by how often their topic has already been shown. Constraints that would
// leave nothing to pick are dropped rather than failing the request.
package selector

import (
	"math"
	"math/rand"
	"sort"

	"github.com/mohammad-safakhou/catengine/internal/irt"
	"github.com/mohammad-safakhou/catengine/models"
)

const balancePenalty = 0.1

// Input carries everything Select needs for one decision.
type Input struct {
	Theta       float64
	Candidates  []models.Item
	Seen        map[models.ItemID]struct{}
	Excluded    map[models.ItemID]struct{}
	TopicCounts map[string]int
	Policy      models.SelectionPolicy
	AvoidTopic  string
}

type scored struct {
	item  models.Item
	score float64
}

// Select returns the chosen item, or false when every candidate was seen or excluded.
// rng may be nil, in which case the shared math/rand source is used.
func Select(in Input, rng *rand.Rand) (models.Item, bool) {
	pool := filterAvailable(in.Candidates, in.Seen, in.Excluded)
	if len(pool) == 0 {
		return models.Item{}, false
	}
	pool = applyTopicCap(pool, in.TopicCounts, in.Policy.MaxPerTopic)

	ranked := make([]scored, len(pool))
	for i, it := range pool {
		s := irt.Information(in.Theta, it.A, it.B, it.C)
		if in.Policy.PreferBalanced {
			s *= 1.0 / (1.0 + balancePenalty*float64(in.TopicCounts[it.TopicOrDefault()]))
		}
		ranked[i] = scored{item: it, score: s}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if in.Policy.Deterministic {
		return ranked[0].item, true
	}

	var choices []scored
	if k := in.Policy.TopKRandom; k != nil && *k > 0 {
		n := *k
		if n > len(ranked) {
			n = len(ranked)
		}
		choices = ranked[:n]
	} else {
		band := in.Policy.Normalize().InfoBandFraction
		top := ranked[0].score
		cutoff := top - band*math.Max(1.0, top)
		for _, r := range ranked {
			if r.score < cutoff {
				break
			}
			choices = append(choices, r)
		}
	}
	choices = avoidTopic(choices, in.AvoidTopic)
	return choices[intn(rng, len(choices))].item, true
}

// FirstItem picks the unseen candidate whose difficulty is closest to theta.
// Ties keep the earliest candidate.
func FirstItem(theta float64, candidates []models.Item, excluded map[models.ItemID]struct{}) (models.Item, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, it := range candidates {
		if _, skip := excluded[it.ID]; skip {
			continue
		}
		d := math.Abs(it.B - theta)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return models.Item{}, false
	}
	return candidates[best], true
}

func filterAvailable(candidates []models.Item, seen, excluded map[models.ItemID]struct{}) []models.Item {
	out := make([]models.Item, 0, len(candidates))
	for _, it := range candidates {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		if _, ok := excluded[it.ID]; ok {
			continue
		}
		out = append(out, it)
	}
	return out
}

// applyTopicCap drops items whose topic already reached the cap. If that empties
// the pool the cap is ignored.
func applyTopicCap(pool []models.Item, counts map[string]int, maxPerTopic *int) []models.Item {
	if maxPerTopic == nil {
		return pool
	}
	capped := make([]models.Item, 0, len(pool))
	for _, it := range pool {
		if counts[it.TopicOrDefault()] < *maxPerTopic {
			capped = append(capped, it)
		}
	}
	if len(capped) == 0 {
		return pool
	}
	return capped
}

func avoidTopic(choices []scored, topic string) []scored {
	if topic == "" {
		return choices
	}
	alt := make([]scored, 0, len(choices))
	for _, c := range choices {
		if c.item.TopicOrDefault() != topic {
			alt = append(alt, c)
		}
	}
	if len(alt) == 0 {
		return choices
	}
	return alt
}

func intn(rng *rand.Rand, n int) int {
	if n <= 1 {
		return 0
	}
	if rng == nil {
		return rand.Intn(n)
	}
	return rng.Intn(n)
}
