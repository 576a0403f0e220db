package estimator

import (
	"math"

	"github.com/mohammad-safakhou/catengine/internal/irt"
)

const (
	newtonMaxIter   = 25
	newtonTolerance = 1e-4
	derivativeEps   = 1e-4
	minCurvature    = 1e-8
	probabilityEps  = 1e-9
)

// LogLikelihood is the 3PL log-likelihood of responses at theta.
func LogLikelihood(theta float64, responses []Response) float64 {
	ll := 0.0
	for _, r := range responses {
		p := irt.Probability(theta, r.A, r.B, r.C)
		p = math.Max(probabilityEps, math.Min(1-probabilityEps, p))
		if r.Correct {
			ll += math.Log(p)
		} else {
			ll += math.Log(1 - p)
		}
	}
	return ll
}

// LogPosterior adds a Gaussian log-prior to the log-likelihood. A non-positive
// prior SD drops the prior term.
func LogPosterior(theta float64, responses []Response, prior Prior) float64 {
	ll := LogLikelihood(theta, responses)
	if prior.SD <= 0 {
		return ll
	}
	d := theta - prior.Mean
	return ll - 0.5*d*d/(prior.SD*prior.SD)
}

// MLE maximizes the log-likelihood with Newton–Raphson. Empty input yields 0;
// all-correct and all-incorrect sets saturate at the range bounds since the
// likelihood has no interior maximum.
func MLE(responses []Response, theta0 float64) float64 {
	if len(responses) == 0 {
		return 0.0
	}
	correct := 0
	for _, r := range responses {
		if r.Correct {
			correct++
		}
	}
	switch correct {
	case len(responses):
		return irt.MaxTheta
	case 0:
		return irt.MinTheta
	}
	return newton(func(t float64) float64 { return LogLikelihood(t, responses) }, theta0)
}

// MAP maximizes the log-posterior with Newton–Raphson. Empty input yields the
// prior mean.
func MAP(responses []Response, theta0 float64, prior Prior) float64 {
	if len(responses) == 0 {
		return irt.ClipTheta(prior.Mean)
	}
	return newton(func(t float64) float64 { return LogPosterior(t, responses, prior) }, theta0)
}

func newton(f func(float64) float64, theta0 float64) float64 {
	theta := irt.ClipTheta(theta0)
	for i := 0; i < newtonMaxIter; i++ {
		g, h := gradHess(f, theta)
		if math.Abs(h) < minCurvature || math.IsNaN(h) || math.IsNaN(g) {
			break
		}
		next := irt.ClipTheta(theta - g/h)
		if math.Abs(next-theta) < newtonTolerance {
			theta = next
			break
		}
		theta = next
	}
	return irt.ClipTheta(theta)
}

// gradHess returns central-difference first and second derivatives of f at x.
func gradHess(f func(float64) float64, x float64) (float64, float64) {
	f0 := f(x)
	fm := f(x - derivativeEps)
	fp := f(x + derivativeEps)
	grad := (fp - fm) / (2 * derivativeEps)
	hess := (fp - 2*f0 + fm) / (derivativeEps * derivativeEps)
	return grad, hess
}
