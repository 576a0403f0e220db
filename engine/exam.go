package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/mohammad-safakhou/catengine/internal/estimator"
	"github.com/mohammad-safakhou/catengine/internal/irt"
	"github.com/mohammad-safakhou/catengine/internal/selector"
	"github.com/mohammad-safakhou/catengine/internal/stopping"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	sourceFirstItem = "first_item"
	ciZ             = 1.96
)

// Next picks the item to present from candidates. Before anything has been
// seen it takes the item whose difficulty is closest to θ; afterwards it
// applies exposure exclusion and the resolved selection policy.
func (e *Engine) Next(ctx context.Context, sessionID string, candidates []models.Item) (_ *models.Item, err error) {
	ctx, span := tracer.Start(ctx, "engine.next", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("candidates", len(candidates)),
	))
	defer func() { endSpan(span, err) }()

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var (
		item   models.Item
		ok     bool
		source string
	)
	seen := sess.Seen()
	if len(seen) == 0 {
		item, ok = selector.FirstItem(sess.Theta, candidates, nil)
		source = sourceFirstItem
	} else {
		in := selector.Input{
			Theta:       sess.Theta,
			Candidates:  candidates,
			Seen:        seen,
			Excluded:    e.overexposed(ctx),
			TopicCounts: sess.TopicCounts,
			AvoidTopic:  sess.LastTopic,
		}
		binding := e.policies.Resolve(ctx, sess.Namespace, e.cfg.ResolveHierarchy)
		in.Policy = binding.Policy
		source = string(binding.Source)
		// the lock covers only the shared rng, never store lookups
		e.rngMu.Lock()
		item, ok = selector.Select(in, e.rng)
		e.rngMu.Unlock()
	}
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNoItemAvailable)
	}

	if e.activity != nil {
		if err := e.activity.RecordExposure(ctx, sess.ID, sess.UserID, sess.ExamID, item.ID); err != nil {
			e.log.Warn("record exposure failed", "session_id", sess.ID, "item_id", item.ID, "error", err)
		}
	}
	e.metrics.ItemSelected(source)
	span.SetAttributes(attribute.String("item_id", item.ID.String()), attribute.String("source", source))
	e.log.Debug("item selected", "session_id", sess.ID, "item_id", item.ID, "source", source, "theta", sess.Theta)
	return &item, nil
}

func (e *Engine) overexposed(ctx context.Context) map[models.ItemID]struct{} {
	ex := e.cfg.Exposure
	if e.exposure == nil || ex.MaxPerWindow <= 0 || ex.Window <= 0 {
		return nil
	}
	ids, err := e.exposure.OverexposedItemIDs(ctx, ex.MaxPerWindow, ex.Window)
	if err != nil {
		e.log.Warn("exposure lookup failed, not excluding any items", "error", err)
		return nil
	}
	return ids
}

// AnswerResult is the state after one scored answer.
type AnswerResult struct {
	Theta    float64           `json:"theta_after"`
	SE       float64           `json:"std_error"`
	Info     float64           `json:"info"`
	Answered int               `json:"answered_count"`
	Stop     bool              `json:"stop"`
	Reasons  []stopping.Reason `json:"stop_reasons,omitempty"`
}

// Answer scores a response to item, updates θ and SE, and evaluates the stopping rule.
func (e *Engine) Answer(ctx context.Context, sessionID string, item models.Item, correct bool) (_ AnswerResult, err error) {
	ctx, span := tracer.Start(ctx, "engine.answer", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("item_id", item.ID.String()),
		attribute.Bool("correct", correct),
	))
	defer func() { endSpan(span, err) }()

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return AnswerResult{}, err
	}
	now := e.now()

	est := estimator.New(e.cfg.Method, sess.Prior())
	latest := estimator.Response{A: item.A, B: item.B, C: item.C, Correct: correct}
	theta := irt.ClipTheta(est.Update(sess.Theta, sess.Responses(), latest))
	info := irt.Information(theta, item.A, item.B, item.C)
	se := estimator.StandardError(append(sess.Infos(), info))

	sess.Record(session.AnsweredItem{
		ItemID:  item.ID,
		A:       item.A,
		B:       item.B,
		C:       item.C,
		Correct: correct,
		Info:    info,
		Topic:   item.TopicOrDefault(),
	}, theta, se, now)

	decision := stopping.Evaluate(stopping.Input{
		Answered:    len(sess.Answered),
		MaxItems:    e.cfg.Stop.MaxItems,
		Elapsed:     sess.Elapsed(now),
		TimeLimit:   sess.TimeLimit,
		SE:          se,
		SEThreshold: e.cfg.Stop.SEThreshold,
	})

	if err := e.sessions.Save(ctx, sess); err != nil {
		return AnswerResult{}, fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	if e.activity != nil {
		if err := e.activity.RecordResponse(ctx, sess.ID, item.ID, correct, now); err != nil {
			e.log.Warn("record response failed", "session_id", sess.ID, "item_id", item.ID, "error", err)
		}
	}
	e.metrics.AnswerRecorded(correct)
	span.SetAttributes(attribute.Float64("theta", theta), attribute.Float64("se", se), attribute.Bool("stop", decision.Stop))
	if decision.Stop {
		reasons := make([]string, len(decision.Reasons))
		for i, r := range decision.Reasons {
			reasons[i] = string(r)
		}
		e.metrics.SessionStopped(reasons)
	}

	return AnswerResult{
		Theta:    theta,
		SE:       se,
		Info:     info,
		Answered: len(sess.Answered),
		Stop:     decision.Stop,
		Reasons:  decision.Reasons,
	}, nil
}

type TopicScore struct {
	Topic    string  `json:"topic"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Summary is the outcome of a finished session. SE and CI are nil when no
// answer carried any information.
type Summary struct {
	SessionID   string       `json:"session_id"`
	Theta       float64      `json:"theta"`
	SE          *float64     `json:"se,omitempty"`
	ScaledScore float64      `json:"scaled_score"`
	Percentile  float64      `json:"percentile"`
	CI95        *Interval    `json:"ci95,omitempty"`
	Answered    int          `json:"answered_count"`
	Correct     int          `json:"correct_count"`
	Topics      []TopicScore `json:"topic_breakdown"`
}

// Finish summarizes the session and hands the result to the completion sink.
// Sink failures are logged and do not fail the call.
func (e *Engine) Finish(ctx context.Context, sessionID string) (Summary, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		SessionID:   sess.ID,
		Theta:       sess.Theta,
		ScaledScore: e.cfg.Scale.MeanRef + e.cfg.Scale.SDRef*sess.Theta,
		Percentile:  Percentile(sess.Theta),
		Answered:    len(sess.Answered),
		Topics:      topicBreakdown(sess.Answered),
	}
	for _, a := range sess.Answered {
		if a.Correct {
			sum.Correct++
		}
	}
	if se, ok := finalSE(sess); ok {
		sum.SE = &se
		sum.CI95 = &Interval{Lower: sess.Theta - ciZ*se, Upper: sess.Theta + ciZ*se}
	}

	if e.completions != nil {
		c := models.Completion{
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			ExamID:      sess.ExamID,
			Theta:       sess.Theta,
			ScaledScore: sum.ScaledScore,
			Answered:    sum.Answered,
			CompletedAt: e.now(),
		}
		if sum.SE != nil {
			c.SE = *sum.SE
		}
		if err := e.completions.RecordCompletion(ctx, c); err != nil {
			e.log.Warn("persist completion failed", "session_id", sess.ID, "error", err)
		}
	}
	e.log.Info("session finished", "session_id", sess.ID, "theta", sum.Theta, "answered", sum.Answered)
	return sum, nil
}

// Percentile is the share of a standard normal population below theta, in [0, 1].
func Percentile(theta float64) float64 {
	return 0.5 * (1.0 + math.Erf(theta/math.Sqrt2))
}

// finalSE prefers the recorded history and otherwise recomputes from the
// positive stored information values.
func finalSE(sess *session.Session) (float64, bool) {
	if n := len(sess.SEHistory); n > 0 {
		return sess.SEHistory[n-1], true
	}
	total := 0.0
	for _, a := range sess.Answered {
		if a.Info > 0 && !math.IsInf(a.Info, 0) {
			total += a.Info
		}
	}
	if total <= 0 {
		return 0, false
	}
	return math.Sqrt(1.0 / total), true
}

func topicBreakdown(answered []session.AnsweredItem) []TopicScore {
	idx := map[string]int{}
	var out []TopicScore
	for _, a := range answered {
		topic := a.Topic
		if topic == "" {
			topic = models.DefaultTopic
		}
		i, ok := idx[topic]
		if !ok {
			i = len(out)
			idx[topic] = i
			out = append(out, TopicScore{Topic: topic})
		}
		out[i].Total++
		if a.Correct {
			out[i].Correct++
		}
	}
	for i := range out {
		out[i].Accuracy = float64(out[i].Correct) / float64(out[i].Total)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}
