package estimator

import "github.com/mohammad-safakhou/catengine/internal/irt"

// DefaultStepSize is the fixed gradient step of the online update.
const DefaultStepSize = 0.1

// Online applies one gradient step θ' = θ + 0.1·(y−p)·a, clipped to the ability range.
func Online(theta, a, b, c float64, correct bool) float64 {
	return OnlineStep(theta, Response{A: a, B: b, C: c, Correct: correct}, DefaultStepSize)
}

// OnlineStep is Online with an explicit step size.
func OnlineStep(theta float64, r Response, step float64) float64 {
	p := irt.Probability(theta, r.A, r.B, r.C)
	y := 0.0
	if r.Correct {
		y = 1.0
	}
	return irt.ClipTheta(theta + step*(y-p)*r.A)
}
