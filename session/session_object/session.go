package session_object

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/estimator"
	"github.com/mohammad-safakhou/catengine/internal/irt"
	"github.com/mohammad-safakhou/catengine/models"
)

// AnsweredItem is one response with the item parameters in force when it was answered.
type AnsweredItem struct {
	ItemID  models.ItemID `json:"question_id"`
	A       float64       `json:"a"`
	B       float64       `json:"b"`
	C       float64       `json:"c"`
	Correct bool          `json:"is_correct"`
	Info    float64       `json:"info"`
	Topic   string        `json:"topic,omitempty"`
}

// Response converts the answer into estimator input.
func (a AnsweredItem) Response() estimator.Response {
	return estimator.Response{A: a.A, B: a.B, C: a.C, Correct: a.Correct}
}

// Session is the live state of one exam attempt.
type Session struct {
	ID           string
	UserID       string
	ExamID       string
	Namespace    string
	Theta        float64
	Answered     []AnsweredItem
	SeenIDs      []models.ItemID
	TopicCounts  map[string]int
	LastTopic    string
	PriorMean    float64
	PriorSD      float64
	ThetaHistory []float64
	SEHistory    []float64
	StartedAt    time.Time
	LastAnswerAt time.Time
	TimeLimit    *time.Duration
}

// Timestamp normalizes t to the precision the persisted record keeps, so a
// saved session reads back equal to the one in memory.
func Timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(time.Microsecond)
}

// New returns a fresh session seeded at θ=0 with a N(0,1) prior.
func New(id, userID, examID string, timeLimit *time.Duration, now time.Time) *Session {
	now = Timestamp(now)
	s := &Session{
		ID:           id,
		UserID:       userID,
		ExamID:       examID,
		TopicCounts:  map[string]int{},
		PriorMean:    estimator.DefaultPrior.Mean,
		PriorSD:      estimator.DefaultPrior.SD,
		ThetaHistory: []float64{0},
		StartedAt:    now,
		LastAnswerAt: now,
	}
	if timeLimit != nil {
		d := *timeLimit
		s.TimeLimit = &d
	}
	return s
}

// Seed resets the starting ability and prior. Only valid before the first answer.
func (s *Session) Seed(theta0 float64, prior estimator.Prior) error {
	if len(s.Answered) > 0 {
		return fmt.Errorf("session %s: cannot reseed after %d answers", s.ID, len(s.Answered))
	}
	s.Theta = irt.ClipTheta(theta0)
	s.ThetaHistory = []float64{s.Theta}
	s.SEHistory = nil
	s.PriorMean = prior.Mean
	s.PriorSD = prior.SD
	return nil
}

// Prior returns the session's ability prior.
func (s *Session) Prior() estimator.Prior {
	return estimator.Prior{Mean: s.PriorMean, SD: s.PriorSD}
}

// Seen returns the set of item ids already presented or answered.
func (s *Session) Seen() map[models.ItemID]struct{} {
	out := make(map[models.ItemID]struct{}, len(s.SeenIDs)+len(s.Answered))
	for _, id := range s.SeenIDs {
		out[id] = struct{}{}
	}
	for _, a := range s.Answered {
		out[a.ItemID] = struct{}{}
	}
	return out
}

// Responses returns the answered items as estimator input, oldest first.
func (s *Session) Responses() []estimator.Response {
	out := make([]estimator.Response, len(s.Answered))
	for i, a := range s.Answered {
		out[i] = a.Response()
	}
	return out
}

// Infos returns the stored per-answer information values.
func (s *Session) Infos() []float64 {
	out := make([]float64, len(s.Answered))
	for i, a := range s.Answered {
		out[i] = a.Info
	}
	return out
}

// Record appends an answer and the estimates computed after it.
func (s *Session) Record(ans AnsweredItem, theta, se float64, now time.Time) {
	if s.TopicCounts == nil {
		s.TopicCounts = map[string]int{}
	}
	theta = irt.ClipTheta(theta)
	s.Answered = append(s.Answered, ans)
	if !s.hasSeen(ans.ItemID) {
		s.SeenIDs = append(s.SeenIDs, ans.ItemID)
	}
	topic := ans.Topic
	if topic == "" {
		topic = models.DefaultTopic
	}
	s.TopicCounts[topic]++
	s.LastTopic = topic
	s.Theta = theta
	s.ThetaHistory = append(s.ThetaHistory, theta)
	s.SEHistory = append(s.SEHistory, se)
	s.LastAnswerAt = Timestamp(now)
}

// Restart sets the start and last-answer time, e.g. once a session has been seeded.
func (s *Session) Restart(now time.Time) {
	now = Timestamp(now)
	s.StartedAt = now
	s.LastAnswerAt = now
}

func (s *Session) hasSeen(id models.ItemID) bool {
	for _, v := range s.SeenIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Elapsed is the wall time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Remaining returns the time left before the limit, or nil when there is no limit.
func (s *Session) Remaining(now time.Time) *time.Duration {
	if s.TimeLimit == nil {
		return nil
	}
	r := *s.TimeLimit - s.Elapsed(now)
	if r < 0 {
		r = 0
	}
	return &r
}

// Validate checks the history invariants.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if len(s.ThetaHistory) != len(s.Answered)+1 {
		return fmt.Errorf("session %s: theta history has %d entries for %d answers", s.ID, len(s.ThetaHistory), len(s.Answered))
	}
	if len(s.SEHistory) != len(s.Answered) {
		return fmt.Errorf("session %s: se history has %d entries for %d answers", s.ID, len(s.SEHistory), len(s.Answered))
	}
	if s.Theta < irt.MinTheta || s.Theta > irt.MaxTheta {
		return fmt.Errorf("session %s: theta %v out of range", s.ID, s.Theta)
	}
	return nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Answered = append([]AnsweredItem(nil), s.Answered...)
	c.SeenIDs = append([]models.ItemID(nil), s.SeenIDs...)
	c.ThetaHistory = append([]float64(nil), s.ThetaHistory...)
	c.SEHistory = append([]float64(nil), s.SEHistory...)
	c.TopicCounts = make(map[string]int, len(s.TopicCounts))
	for k, v := range s.TopicCounts {
		c.TopicCounts[k] = v
	}
	if s.TimeLimit != nil {
		d := *s.TimeLimit
		c.TimeLimit = &d
	}
	return &c
}
