// Package estimator computes ability (θ) estimates from item responses.
package estimator

import (
	"strings"

	"github.com/mohammad-safakhou/catengine/internal/irt"
)

// Method selects an estimation strategy.
type Method string

const (
	MethodOnline Method = "online"
	MethodMLE    Method = "mle"
	MethodMAP    Method = "map"
	MethodEAP    Method = "eap"
)

var validMethods = map[Method]struct{}{
	MethodOnline: {},
	MethodMLE:    {},
	MethodMAP:    {},
	MethodEAP:    {},
}

// Valid reports whether the method is supported.
func (m Method) Valid() bool {
	_, ok := validMethods[m]
	return ok
}

// ParseMethod normalizes a configured method name. Unknown names map to online.
func ParseMethod(s string) Method {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return MethodOnline
	}
	return m
}

// Response is one scored answer together with the item parameters at answer time.
type Response struct {
	A       float64
	B       float64
	C       float64
	Correct bool
}

// Prior is the Gaussian ability prior used by MAP and EAP.
type Prior struct {
	Mean float64
	SD   float64
}

// DefaultPrior is N(0, 1).
var DefaultPrior = Prior{Mean: 0, SD: 1}

// Estimator bundles a method with its prior so callers can switch strategies by configuration.
type Estimator struct {
	Method   Method
	Prior    Prior
	StepSize float64
}

// New returns an Estimator for the named method.
func New(method string, prior Prior) Estimator {
	return Estimator{Method: ParseMethod(method), Prior: prior, StepSize: DefaultStepSize}
}

// Update returns the new θ after latest is appended to history.
// history holds the responses answered before latest, in order.
func (e Estimator) Update(theta float64, history []Response, latest Response) float64 {
	switch e.Method {
	case MethodMLE, MethodMAP, MethodEAP:
		all := make([]Response, 0, len(history)+1)
		all = append(all, history...)
		all = append(all, latest)
		return e.Estimate(theta, all)
	default:
		step := e.StepSize
		if step <= 0 {
			step = DefaultStepSize
		}
		return OnlineStep(theta, latest, step)
	}
}

// Estimate runs the configured batch estimator over responses starting from theta0.
// The online method has no batch form and replays the responses one step at a time.
func (e Estimator) Estimate(theta0 float64, responses []Response) float64 {
	switch e.Method {
	case MethodMLE:
		return MLE(responses, theta0)
	case MethodMAP:
		return MAP(responses, theta0, e.Prior)
	case MethodEAP:
		return EAP(responses, e.Prior)
	default:
		theta := irt.ClipTheta(theta0)
		for _, r := range responses {
			theta = OnlineStep(theta, r, DefaultStepSize)
		}
		return theta
	}
}
