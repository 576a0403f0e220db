// Package irt holds the three-parameter logistic (3PL) response model.
package irt

import "math"

// Ability bounds every estimator clips to.
const (
	MinTheta = -4.0
	MaxTheta = 4.0
)

// maxExponent keeps math.Exp finite; past it the logistic is at its asymptote.
const maxExponent = 700.0

// Probability returns the 3PL probability of a correct response:
// c + (1-c) / (1 + exp(-a(θ-b))). The result always lies in [c, 1].
func Probability(theta, a, b, c float64) float64 {
	z := a * (theta - b)
	switch {
	case math.IsNaN(z):
		return c
	case z >= maxExponent:
		return 1.0
	case z <= -maxExponent:
		return c
	}
	p := c + (1.0-c)/(1.0+math.Exp(-z))
	if p > 1.0 {
		return 1.0
	}
	if p < c {
		return c
	}
	return p
}

// Information returns the Fisher information an item contributes at θ.
// Degenerate guessing or probability values yield 0.
func Information(theta, a, b, c float64) float64 {
	p := Probability(theta, a, b, c)
	q := 1.0 - p
	pc := p - c
	oneMinusC := 1.0 - c
	if pc <= 0 || oneMinusC <= 0 {
		return 0.0
	}
	info := a * a * (q / (pc * pc)) * math.Pow(pc/oneMinusC, 2)
	if info < 0 || math.IsNaN(info) {
		return 0.0
	}
	return info
}

// ClipTheta clamps an ability estimate to [MinTheta, MaxTheta].
func ClipTheta(theta float64) float64 {
	if math.IsNaN(theta) {
		return 0.0
	}
	return math.Max(MinTheta, math.Min(MaxTheta, theta))
}
