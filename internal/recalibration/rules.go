package recalibration

import (
	"math"
	"strings"

	"github.com/mohammad-safakhou/catengine/internal/irt"
)

// Method selects how a new difficulty is derived from the observed correct rate.
type Method string

const (
	MethodHeuristic Method = "heuristic"
	MethodMoment    Method = "moment"
)

// ParseMethod maps configured names to a rule. Only "heuristic" (or an empty
// name) selects the heuristic; every other name, "mml" and "bayes" included,
// runs the moment rule.
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "heuristic":
		return MethodHeuristic
	default:
		return MethodMoment
	}
}

// HeuristicB nudges b against the gap between target and observed correct rate:
// a rate below target makes the item easier, one above makes it harder.
func HeuristicB(b, observed, target, learningRate float64) float64 {
	return round3(b - learningRate*(target-observed))
}

// MomentB derives b from the 3PL curve at θ=0 as -(1/a)·ln((1-c)/(p-c) - 1).
// p is held strictly between c and 1 and the result is clamped to the ability range.
func MomentB(a, c, observed float64) float64 {
	p := math.Min(math.Max(observed, c+1e-5), 1.0-1e-5)
	t := (1.0-c)/(p-c) - 1.0
	x := math.Log(math.Max(t, 1e-9))
	b := -x / math.Max(a, 1e-6)
	if math.IsNaN(b) {
		return 0
	}
	return math.Max(irt.MinTheta, math.Min(irt.MaxTheta, b))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
