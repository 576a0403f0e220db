// Package engine drives exam sessions: it seeds ability, picks items, scores
// answers and decides when a session is over.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/estimator"
	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("catengine/engine")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InitialAbilitySource supplies the starting θ for a user on an exam.
type InitialAbilitySource interface {
	InitialTheta(ctx context.Context, userID, examID string) (float64, error)
}

// ExposureSource reports items shown at least max times within window.
type ExposureSource interface {
	OverexposedItemIDs(ctx context.Context, max int, window time.Duration) (map[models.ItemID]struct{}, error)
}

// ActivityLog receives presented items and scored answers.
type ActivityLog interface {
	RecordExposure(ctx context.Context, sessionID, userID, examID string, itemID models.ItemID) error
	RecordResponse(ctx context.Context, sessionID string, itemID models.ItemID, correct bool, at time.Time) error
}

// CompletionSink persists finished sessions.
type CompletionSink interface {
	RecordCompletion(ctx context.Context, c models.Completion) error
}

// PolicySource resolves the selection policy for a namespace.
type PolicySource interface {
	Resolve(ctx context.Context, ns string, hierarchy bool) models.PolicyBinding
}

// Metrics is the subset of the telemetry registry the engine reports to.
type Metrics interface {
	SessionStarted()
	AnswerRecorded(correct bool)
	ItemSelected(source string)
	SessionStopped(reasons []string)
}

type StopConfig struct {
	MaxItems    int
	TimeLimit   *time.Duration
	SEThreshold float64
}

type ExposureConfig struct {
	MaxPerWindow int
	Window       time.Duration
}

type ScaleConfig struct {
	MeanRef float64
	SDRef   float64
}

type Config struct {
	Method           string
	Prior            estimator.Prior
	Stop             StopConfig
	Exposure         ExposureConfig
	Scale            ScaleConfig
	ResolveHierarchy bool
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	limit := 60 * time.Second
	return Config{
		Method: string(estimator.MethodOnline),
		Prior:  estimator.DefaultPrior,
		Stop: StopConfig{
			MaxItems:    20,
			TimeLimit:   &limit,
			SEThreshold: 0.3,
		},
		Exposure:         ExposureConfig{Window: 24 * time.Hour},
		Scale:            ScaleConfig{MeanRef: 100, SDRef: 15},
		ResolveHierarchy: true,
	}
}

// Deps are the collaborators of an Engine. Only Sessions and Policies are required.
type Deps struct {
	Sessions    session.Store
	Policies    PolicySource
	Initial     InitialAbilitySource
	Exposure    ExposureSource
	Activity    ActivityLog
	Completions CompletionSink
	Metrics     Metrics
	Logger      *logger.Logger
	Now         func() time.Time
	Rand        *rand.Rand
}

type Engine struct {
	cfg      Config
	sessions session.Store
	policies PolicySource

	initial     InitialAbilitySource
	exposure    ExposureSource
	activity    ActivityLog
	completions CompletionSink
	metrics     Metrics
	log         *logger.Logger
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("engine: session store is required")
	}
	if deps.Policies == nil {
		return nil, fmt.Errorf("engine: policy source is required")
	}
	e := &Engine{
		cfg:         cfg,
		sessions:    deps.Sessions,
		policies:    deps.Policies,
		initial:     deps.Initial,
		exposure:    deps.Exposure,
		activity:    deps.Activity,
		completions: deps.Completions,
		metrics:     deps.Metrics,
		log:         deps.Logger,
		now:         deps.Now,
		rng:         deps.Rand,
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e, nil
}

type StartRequest struct {
	UserID    string
	ExamID    string
	Namespace string
}

// Start creates a session seeded with the user's initial ability. A failing
// ability source falls back to θ=0.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*session.Session, error) {
	sess, err := e.sessions.Create(ctx, req.UserID, req.ExamID, e.cfg.Stop.TimeLimit)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	theta0 := 0.0
	if e.initial != nil {
		t, err := e.initial.InitialTheta(ctx, req.UserID, req.ExamID)
		if err != nil {
			e.log.Warn("initial ability lookup failed, starting at 0", "user_id", req.UserID, "exam_id", req.ExamID, "error", err)
		} else {
			theta0 = t
		}
	}
	prior := e.cfg.Prior
	if prior.SD <= 0 {
		prior.SD = estimator.DefaultPrior.SD
	}
	if err := sess.Seed(theta0, prior); err != nil {
		return nil, err
	}
	sess.Namespace = req.Namespace
	sess.Restart(e.now())
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	e.metrics.SessionStarted()
	e.log.Info("session started", "session_id", sess.ID, "user_id", req.UserID, "exam_id", req.ExamID, "theta0", sess.Theta)
	return sess, nil
}

// StateView is a read-only snapshot of a session.
type StateView struct {
	SessionID     string          `json:"session_id"`
	UserID        string          `json:"user_id"`
	ExamID        string          `json:"exam_id"`
	Namespace     string          `json:"namespace,omitempty"`
	Theta         float64         `json:"theta"`
	Prior         estimator.Prior `json:"prior"`
	AnsweredCount int             `json:"answered_count"`
	SeenIDs       []models.ItemID `json:"seen_ids"`
	TopicCounts   map[string]int  `json:"topic_counts"`
	ThetaHistory  []float64       `json:"theta_history"`
	SEHistory     []float64       `json:"se_history"`
	Elapsed       time.Duration   `json:"elapsed"`
	Remaining     *time.Duration  `json:"remaining,omitempty"`
}

func (e *Engine) State(ctx context.Context, sessionID string) (StateView, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return StateView{}, err
	}
	now := e.now()
	return StateView{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		ExamID:        sess.ExamID,
		Namespace:     sess.Namespace,
		Theta:         sess.Theta,
		Prior:         sess.Prior(),
		AnsweredCount: len(sess.Answered),
		SeenIDs:       sess.SeenIDs,
		TopicCounts:   sess.TopicCounts,
		ThetaHistory:  sess.ThetaHistory,
		SEHistory:     sess.SEHistory,
		Elapsed:       sess.Elapsed(now),
		Remaining:     sess.Remaining(now),
	}, nil
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()         {}
func (nopMetrics) AnswerRecorded(bool)     {}
func (nopMetrics) ItemSelected(string)     {}
func (nopMetrics) SessionStopped([]string) {}
