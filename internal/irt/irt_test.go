package irt

import (
	"math"
	"testing"
)

func TestProbabilityBounds(t *testing.T) {
	items := []struct{ a, b, c float64 }{
		{1.2, 0.0, 0.2},
		{0.3, -4.0, 0.0},
		{2.5, 4.0, 0.35},
	}
	thetas := []float64{-1e6, -40, -4, -1, 0, 1, 4, 40, 1e6}
	for _, it := range items {
		prev := -1.0
		for _, th := range thetas {
			p := Probability(th, it.a, it.b, it.c)
			if math.IsNaN(p) || math.IsInf(p, 0) {
				t.Fatalf("Probability(%g, %+v) not finite: %v", th, it, p)
			}
			if p < it.c || p > 1 {
				t.Fatalf("Probability(%g, %+v) = %v, outside [c,1]", th, it, p)
			}
			if p < prev {
				t.Fatalf("Probability not monotone at θ=%g: %v < %v", th, p, prev)
			}
			prev = p
		}
	}
}

func TestProbabilityAsymptotes(t *testing.T) {
	if got := Probability(1e6, 1.0, 0.0, 0.2); got != 1.0 {
		t.Fatalf("expected upper asymptote 1.0, got %v", got)
	}
	if got := Probability(-1e6, 1.0, 0.0, 0.2); got != 0.2 {
		t.Fatalf("expected lower asymptote c, got %v", got)
	}
	if got := Probability(0, 1.0, 0.0, 0.0); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("expected 0.5 at θ=b with c=0, got %v", got)
	}
}

func TestInformationNonNegative(t *testing.T) {
	for _, th := range []float64{-1e6, -4, -1, 0, 0.5, 3, 1e6} {
		for _, c := range []float64{0, 0.2, 0.35, 0.99} {
			info := Information(th, 1.3, 0.2, c)
			if info < 0 || math.IsNaN(info) {
				t.Fatalf("Information(%g, c=%g) = %v", th, c, info)
			}
		}
	}
}

func TestInformationDegenerate(t *testing.T) {
	// far below difficulty the probability collapses onto c
	if got := Information(-1e6, 1.0, 0.0, 0.25); got != 0 {
		t.Fatalf("expected 0 when p == c, got %v", got)
	}
	if got := Information(0, 1.0, 0.0, 1.0); got != 0 {
		t.Fatalf("expected 0 when c == 1, got %v", got)
	}
	if got := Information(0, 1.0, 0.0, 0.2); got <= 0 {
		t.Fatalf("expected positive information at θ=b, got %v", got)
	}
}

func TestClipTheta(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-10, -4},
		{-4, -4},
		{0.3, 0.3},
		{4, 4},
		{12, 4},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := ClipTheta(tt.in); got != tt.want {
			t.Errorf("ClipTheta(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
