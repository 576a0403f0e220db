package session_object

import (
	"encoding/json"
	"math"
	"time"

	"github.com/mohammad-safakhou/catengine/models"
)

// record is the persisted shape. Timestamps are epoch seconds.
type record struct {
	SessionID    string          `json:"session_id"`
	UserID       string          `json:"user_id"`
	ExamID       string          `json:"exam_id"`
	Namespace    string          `json:"namespace,omitempty"`
	Theta        float64         `json:"theta"`
	Answered     []AnsweredItem  `json:"answered"`
	SeenIDs      []models.ItemID `json:"seen_ids"`
	TopicCounts  map[string]int  `json:"topic_counts"`
	PriorMean    float64         `json:"prior_mean"`
	PriorSD      float64         `json:"prior_sd"`
	ThetaHistory []float64       `json:"theta_history"`
	SEHistory    []float64       `json:"se_history"`
	StartedAt    float64         `json:"started_at"`
	LastAnswerAt float64         `json:"last_answer_at"`
	LastTopic    *string         `json:"last_topic"`
	TimeLimitSec *float64        `json:"time_limit_sec,omitempty"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	r := record{
		SessionID:    s.ID,
		UserID:       s.UserID,
		ExamID:       s.ExamID,
		Namespace:    s.Namespace,
		Theta:        s.Theta,
		Answered:     nonNil(s.Answered),
		SeenIDs:      nonNil(s.SeenIDs),
		TopicCounts:  s.TopicCounts,
		PriorMean:    s.PriorMean,
		PriorSD:      s.PriorSD,
		ThetaHistory: nonNil(s.ThetaHistory),
		SEHistory:    nonNil(s.SEHistory),
		StartedAt:    toEpoch(s.StartedAt),
		LastAnswerAt: toEpoch(s.LastAnswerAt),
	}
	if r.TopicCounts == nil {
		r.TopicCounts = map[string]int{}
	}
	if s.LastTopic != "" {
		lt := s.LastTopic
		r.LastTopic = &lt
	}
	if s.TimeLimit != nil {
		sec := s.TimeLimit.Seconds()
		r.TimeLimitSec = &sec
	}
	return json.Marshal(r)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = Session{
		ID:           r.SessionID,
		UserID:       r.UserID,
		ExamID:       r.ExamID,
		Namespace:    r.Namespace,
		Theta:        r.Theta,
		Answered:     r.Answered,
		SeenIDs:      r.SeenIDs,
		TopicCounts:  r.TopicCounts,
		PriorMean:    r.PriorMean,
		PriorSD:      r.PriorSD,
		ThetaHistory: r.ThetaHistory,
		SEHistory:    r.SEHistory,
		StartedAt:    fromEpoch(r.StartedAt),
		LastAnswerAt: fromEpoch(r.LastAnswerAt),
	}
	if s.TopicCounts == nil {
		s.TopicCounts = map[string]int{}
	}
	if r.LastTopic != nil {
		s.LastTopic = *r.LastTopic
	}
	if r.TimeLimitSec != nil {
		d := time.Duration(*r.TimeLimitSec * float64(time.Second))
		s.TimeLimit = &d
	}
	return nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// fromEpoch keeps microsecond precision, which is what float64 seconds can hold
// for current dates.
func fromEpoch(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	micros := math.Round(frac * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
}
