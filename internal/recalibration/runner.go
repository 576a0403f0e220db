package recalibration

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/mohammad-safakhou/catengine/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("catengine/recalibration")

// ItemStat is the aggregate evidence for one item.
type ItemStat struct {
	ItemID      models.ItemID
	A           float64
	B           float64
	C           float64
	CorrectRate float64
	// Responses is nil when the source does not report counts.
	Responses *int
}

// ParamUpdate is a proposed parameter change for one item.
type ParamUpdate struct {
	ItemID    models.ItemID
	A         float64
	B         float64
	C         float64
	OldB      float64
	Responses *int
}

type StatsSource interface {
	FetchItemStats(ctx context.Context) ([]ItemStat, error)
}

// ParameterSink persists updates. runID is shared by every update from one run.
type ParameterSink interface {
	PersistItemParams(ctx context.Context, runID string, u ParamUpdate) error
}

// Observer receives run outcomes, typically for metrics.
type Observer interface {
	ObserveRecalibration(updated, skipped, failed int, took time.Duration)
}

type RunnerOptions struct {
	Method         Method
	TargetRate     float64
	LearningRate   float64
	MinResponses   int
	MaxItemsPerRun int
}

// RunReport summarizes one pass.
type RunReport struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Updated  int
	Skipped  int
	Failed   int
}

type Runner struct {
	source   StatsSource
	sink     ParameterSink
	opts     RunnerOptions
	log      *logger.Logger
	observer Observer
	now      func() time.Time
}

func NewRunner(source StatsSource, sink ParameterSink, opts RunnerOptions, log *logger.Logger) *Runner {
	if opts.Method == "" {
		opts.Method = MethodHeuristic
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{source: source, sink: sink, opts: opts, log: log, now: time.Now}
}

// WithObserver attaches an observer and returns the runner.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// RunOnce pulls stats, proposes new difficulties and persists them. Only a
// failure to fetch stats is returned as an error; bad records and sink errors
// are counted in the report.
func (r *Runner) RunOnce(ctx context.Context) (rep RunReport, err error) {
	started := r.now()
	rep = RunReport{RunID: NewRunID(started), Started: started}
	ctx, span := tracer.Start(ctx, "recalibration.run")
	span.SetAttributes(attribute.String("run_id", rep.RunID))
	defer func() {
		rep.Duration = r.now().Sub(started)
		if r.observer != nil {
			r.observer.ObserveRecalibration(rep.Updated, rep.Skipped, rep.Failed, rep.Duration)
		}
		span.SetAttributes(
			attribute.Int("updated", rep.Updated),
			attribute.Int("skipped", rep.Skipped),
			attribute.Int("failed", rep.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if r.source == nil {
		return rep, nil
	}
	stats, err := r.source.FetchItemStats(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch item stats: %w", err)
	}
	log := r.log.With("run_id", rep.RunID)
	for _, st := range stats {
		if ctx.Err() != nil {
			break
		}
		if r.opts.MaxItemsPerRun > 0 && rep.Updated >= r.opts.MaxItemsPerRun {
			break
		}
		if reason := r.invalid(st); reason != "" {
			rep.Skipped++
			log.Debug("skipping item stat", "item_id", st.ItemID, "reason", reason)
			continue
		}
		u := ParamUpdate{ItemID: st.ItemID, A: st.A, B: r.propose(st), C: st.C, OldB: st.B, Responses: st.Responses}
		if err := r.persist(ctx, rep.RunID, u); err != nil {
			rep.Failed++
			log.Warn("persist item params failed", "item_id", st.ItemID, "error", err)
			continue
		}
		rep.Updated++
	}
	log.Info("recalibration run finished", "updated", rep.Updated, "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

func (r *Runner) propose(st ItemStat) float64 {
	if r.opts.Method == MethodMoment {
		return MomentB(st.A, st.C, st.CorrectRate)
	}
	return HeuristicB(st.B, st.CorrectRate, r.opts.TargetRate, r.opts.LearningRate)
}

func (r *Runner) persist(ctx context.Context, runID string, u ParamUpdate) (err error) {
	if r.sink == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
	}()
	return r.sink.PersistItemParams(ctx, runID, u)
}

func (r *Runner) invalid(st ItemStat) string {
	switch {
	case st.ItemID == "":
		return "missing item id"
	case !finite(st.A) || !finite(st.B) || !finite(st.C) || !finite(st.CorrectRate):
		return "non-finite value"
	case st.A <= 0:
		return "non-positive discrimination"
	case st.C < 0 || st.C >= 1:
		return "guessing outside [0,1)"
	case st.CorrectRate < 0 || st.CorrectRate > 1:
		return "correct rate outside [0,1]"
	case r.opts.MinResponses > 0 && st.Responses != nil && *st.Responses < r.opts.MinResponses:
		return "too few responses"
	}
	return ""
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// NewRunID formats run_<UTC timestamp>_<8 hex>.
func NewRunID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(id[:4]))
}
