// Package stopping decides when an adaptive test has collected enough evidence.
package stopping

import "time"

// Reason names a condition that ended the test.
type Reason string

const (
	ReasonMaxItems  Reason = "max_items"
	ReasonTimeLimit Reason = "time_limit"
	ReasonPrecision Reason = "se_threshold"
)

// Input is the state the rule looks at. A nil TimeLimit disables the time check.
type Input struct {
	Answered    int
	MaxItems    int
	Elapsed     time.Duration
	TimeLimit   *time.Duration
	SE          float64
	SEThreshold float64
}

// Decision reports the outcome together with every condition that held.
type Decision struct {
	Stop    bool
	Reasons []Reason
}

// Evaluate checks every condition; any one of them is sufficient to stop.
func Evaluate(in Input) Decision {
	var reasons []Reason
	if in.Answered >= in.MaxItems {
		reasons = append(reasons, ReasonMaxItems)
	}
	if in.TimeLimit != nil && in.Elapsed >= *in.TimeLimit {
		reasons = append(reasons, ReasonTimeLimit)
	}
	if in.SE <= in.SEThreshold {
		reasons = append(reasons, ReasonPrecision)
	}
	return Decision{Stop: len(reasons) > 0, Reasons: reasons}
}

// ShouldStop is Evaluate without the reasons.
func ShouldStop(in Input) bool {
	return Evaluate(in).Stop
}

// Seconds converts a possibly fractional second count into a duration pointer.
// Non-positive values mean no limit.
func Seconds(sec float64) *time.Duration {
	if sec <= 0 {
		return nil
	}
	d := time.Duration(sec * float64(time.Second))
	return &d
}
