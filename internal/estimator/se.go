package estimator

import "math"

// StandardError returns sqrt(1/Σinfo). With no information it reports the
// maximal uncertainty of 1.0.
func StandardError(infos []float64) float64 {
	if len(infos) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, v := range infos {
		if v > 0 && !math.IsInf(v, 0) {
			sum += v
		}
	}
	if sum <= 0 {
		return 1.0
	}
	return math.Sqrt(1.0 / sum)
}
