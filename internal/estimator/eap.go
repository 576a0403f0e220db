package estimator

import (
	"math"

	"github.com/mohammad-safakhou/catengine/internal/irt"
)

// EAPGridPoints is the quadrature resolution over [MinTheta, MaxTheta].
const EAPGridPoints = 201

// EAP returns the posterior mean of θ by grid quadrature. The log-posterior is
// shifted by its maximum before exponentiating so the weights never underflow
// to all zeros.
func EAP(responses []Response, prior Prior) float64 {
	fallback := irt.ClipTheta(prior.Mean)
	if len(responses) == 0 {
		return fallback
	}
	step := (irt.MaxTheta - irt.MinTheta) / float64(EAPGridPoints-1)
	grid := make([]float64, EAPGridPoints)
	logPost := make([]float64, EAPGridPoints)
	maxLog := math.Inf(-1)
	for i := range grid {
		grid[i] = irt.MinTheta + float64(i)*step
		logPost[i] = LogPosterior(grid[i], responses, prior)
		if logPost[i] > maxLog {
			maxLog = logPost[i]
		}
	}
	if math.IsInf(maxLog, 0) || math.IsNaN(maxLog) {
		return fallback
	}
	var sumW, sumTW float64
	for i, t := range grid {
		w := math.Exp(logPost[i] - maxLog)
		sumW += w
		sumTW += t * w
	}
	if sumW <= 0 || math.IsNaN(sumW) {
		return fallback
	}
	return irt.ClipTheta(sumTW / sumW)
}
