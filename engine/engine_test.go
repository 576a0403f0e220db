package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/policy"
	"github.com/mohammad-safakhou/catengine/internal/runtime"
	"github.com/mohammad-safakhou/catengine/internal/stopping"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session/inmemory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixedTheta struct {
	theta float64
	err   error
}

func (f fixedTheta) InitialTheta(context.Context, string, string) (float64, error) {
	return f.theta, f.err
}

type fixedExposure map[models.ItemID]struct{}

func (f fixedExposure) OverexposedItemIDs(context.Context, int, time.Duration) (map[models.ItemID]struct{}, error) {
	return f, nil
}

type activityLog struct {
	exposures []models.ItemID
	responses []bool
}

func (a *activityLog) RecordExposure(_ context.Context, _, _, _ string, id models.ItemID) error {
	a.exposures = append(a.exposures, id)
	return nil
}

func (a *activityLog) RecordResponse(_ context.Context, _ string, _ models.ItemID, correct bool, _ time.Time) error {
	a.responses = append(a.responses, correct)
	return nil
}

type completions struct{ got []models.Completion }

func (c *completions) RecordCompletion(_ context.Context, comp models.Completion) error {
	c.got = append(c.got, comp)
	return nil
}

func newEngine(t *testing.T, cfg Config, deps Deps) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	if deps.Sessions == nil {
		deps.Sessions = inmemory.NewInMemorySessionStore(clock.Now)
	}
	if deps.Policies == nil {
		deps.Policies = policy.NewResolver(policy.Options{
			Default: models.SelectionPolicy{PreferBalanced: true, Deterministic: true},
			Now:     clock.Now,
		})
	}
	deps.Now = clock.Now
	deps.Rand = rand.New(rand.NewSource(1))
	e, err := New(cfg, deps)
	require.NoError(t, err)
	return e, clock
}

var bank = []models.Item{
	{ID: "easy", A: 1, B: -1.5, C: 0, Topic: "algebra"},
	{ID: "mid", A: 1, B: 0.1, C: 0, Topic: "algebra"},
	{ID: "hard", A: 1, B: 0.9, C: 0, Topic: "geometry"},
}

func TestFirstItemClosestToInitialTheta(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig(), Deps{Initial: fixedTheta{theta: 1.0}})
	ctx := context.Background()

	sess, err := e.Start(ctx, StartRequest{UserID: "u1", ExamID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, sess.Theta)
	assert.Equal(t, []float64{1.0}, sess.ThetaHistory)

	item, err := e.Next(ctx, sess.ID, bank)
	require.NoError(t, err)
	assert.Equal(t, models.ItemID("hard"), item.ID)
}

func TestCorrectAnswerRaisesTheta(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig(), Deps{})
	ctx := context.Background()

	sess, err := e.Start(ctx, StartRequest{UserID: "u1", ExamID: "e1"})
	require.NoError(t, err)
	res, err := e.Answer(ctx, sess.ID, bank[1], true)
	require.NoError(t, err)
	assert.Greater(t, res.Theta, 0.0)
	assert.Equal(t, 1, res.Answered)
	assert.Greater(t, res.Info, 0.0)

	got, err := e.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	assert.Equal(t, 1, got.TopicCounts["algebra"])
	assert.Equal(t, "algebra", got.LastTopic)
	assert.Equal(t, []models.ItemID{"mid"}, got.SeenIDs)
}

func TestInitialAbilityErrorFallsBackToZero(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig(), Deps{Initial: fixedTheta{theta: 2, err: errors.New("db down")}})
	sess, err := e.Start(context.Background(), StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sess.Theta)
}

func TestNextSkipsSeenAndOverexposed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exposure = ExposureConfig{MaxPerWindow: 5, Window: time.Hour}
	log := &activityLog{}
	e, _ := newEngine(t, cfg, Deps{
		Exposure: fixedExposure{"hard": {}},
		Activity: log,
	})
	ctx := context.Background()

	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)
	_, err = e.Answer(ctx, sess.ID, bank[1], true)
	require.NoError(t, err)

	item, err := e.Next(ctx, sess.ID, bank)
	require.NoError(t, err)
	assert.Equal(t, models.ItemID("easy"), item.ID)
	assert.Equal(t, []models.ItemID{"easy"}, log.exposures)
	assert.Equal(t, []bool{true}, log.responses)

	_, err = e.Answer(ctx, sess.ID, *item, false)
	require.NoError(t, err)
	_, err = e.Next(ctx, sess.ID, bank)
	assert.ErrorIs(t, err, models.ErrNoItemAvailable)
}

func TestNextIsStableUnderDeterministicPolicy(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig(), Deps{})
	ctx := context.Background()
	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)
	_, err = e.Answer(ctx, sess.ID, bank[0], true)
	require.NoError(t, err)

	first, err := e.Next(ctx, sess.ID, bank)
	require.NoError(t, err)
	second, err := e.Next(ctx, sess.ID, bank)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAnswerStopsAtMaxItems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stop.MaxItems = 2
	cfg.Stop.SEThreshold = 0
	e, _ := newEngine(t, cfg, Deps{})
	ctx := context.Background()
	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)

	res, err := e.Answer(ctx, sess.ID, bank[0], true)
	require.NoError(t, err)
	assert.False(t, res.Stop)

	res, err = e.Answer(ctx, sess.ID, bank[2], false)
	require.NoError(t, err)
	assert.True(t, res.Stop)
	assert.Equal(t, []stopping.Reason{stopping.ReasonMaxItems}, res.Reasons)
}

func TestAnswerStopsOnTimeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stop.SEThreshold = 0
	e, clock := newEngine(t, cfg, Deps{})
	ctx := context.Background()
	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	res, err := e.Answer(ctx, sess.ID, bank[0], true)
	require.NoError(t, err)
	assert.Equal(t, []stopping.Reason{stopping.ReasonTimeLimit}, res.Reasons)
}

func TestStateReportsTiming(t *testing.T) {
	e, clock := newEngine(t, DefaultConfig(), Deps{})
	ctx := context.Background()
	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x", Namespace: "org:exam"})
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	st, err := e.State(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "org:exam", st.Namespace)
	assert.Equal(t, 20*time.Second, st.Elapsed)
	require.NotNil(t, st.Remaining)
	assert.Equal(t, 40*time.Second, *st.Remaining)

	_, err = e.State(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestFinishSummarizes(t *testing.T) {
	sink := &completions{}
	e, _ := newEngine(t, DefaultConfig(), Deps{Completions: sink})
	ctx := context.Background()
	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)

	r1, err := e.Answer(ctx, sess.ID, bank[1], true)
	require.NoError(t, err)
	_, err = e.Answer(ctx, sess.ID, bank[0], true)
	require.NoError(t, err)
	last, err := e.Answer(ctx, sess.ID, bank[2], false)
	require.NoError(t, err)
	require.Greater(t, r1.Theta, 0.0)

	sum, err := e.Finish(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, last.Theta, sum.Theta)
	assert.InDelta(t, 100+15*last.Theta, sum.ScaledScore, 1e-12)
	require.NotNil(t, sum.SE)
	assert.Equal(t, last.SE, *sum.SE)
	require.NotNil(t, sum.CI95)
	assert.InDelta(t, last.Theta-1.96*last.SE, sum.CI95.Lower, 1e-12)
	assert.InDelta(t, last.Theta+1.96*last.SE, sum.CI95.Upper, 1e-12)
	assert.Equal(t, 3, sum.Answered)
	assert.Equal(t, 2, sum.Correct)
	assert.Equal(t, []TopicScore{
		{Topic: "algebra", Correct: 2, Total: 2, Accuracy: 1},
		{Topic: "geometry", Correct: 0, Total: 1, Accuracy: 0},
	}, sum.Topics)

	require.Len(t, sink.got, 1)
	assert.Equal(t, sess.ID, sink.got[0].SessionID)
	assert.Equal(t, 3, sink.got[0].Answered)
}

func TestFinishWithoutAnswers(t *testing.T) {
	e, _ := newEngine(t, DefaultConfig(), Deps{})
	ctx := context.Background()
	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)

	sum, err := e.Finish(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, sum.SE)
	assert.Nil(t, sum.CI95)
	assert.Equal(t, 100.0, sum.ScaledScore)
	assert.Equal(t, 0.5, sum.Percentile)
	assert.Empty(t, sum.Topics)
}

func TestNewRequiresStoreAndPolicies(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestEngineReportsMetrics(t *testing.T) {
	tel := runtime.NewTelemetry(runtime.TelemetryOptions{})
	cfg := DefaultConfig()
	cfg.Stop.MaxItems = 2
	e, _ := newEngine(t, cfg, Deps{Metrics: tel})
	ctx := context.Background()

	sess, err := e.Start(ctx, StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)
	_, err = e.Next(ctx, sess.ID, bank)
	require.NoError(t, err)
	_, err = e.Answer(ctx, sess.ID, bank[0], true)
	require.NoError(t, err)
	_, err = e.Answer(ctx, sess.ID, bank[1], false)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(tel.Registry(), "catengine_answers_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(tel.Registry(), "catengine_items_selected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(tel.Registry(), "catengine_session_stops_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.5, Percentile(0))
	assert.InDelta(t, 0.975, Percentile(1.96), 1e-3)
	assert.InDelta(t, 0.025, Percentile(-1.96), 1e-3)
	assert.Less(t, Percentile(-4), Percentile(4))
}

// gatedExposure blocks its first lookup until released.
type gatedExposure struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedExposure) OverexposedItemIDs(context.Context, int, time.Duration) (map[models.ItemID]struct{}, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return nil, nil
}

func TestNextDoesNotSerializeExposureLookups(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exposure = ExposureConfig{MaxPerWindow: 3, Window: time.Hour}
	gate := &gatedExposure{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newEngine(t, cfg, Deps{Exposure: gate})
	ctx := context.Background()

	var ids []string
	for _, user := range []string{"a", "b"} {
		sess, err := e.Start(ctx, StartRequest{UserID: user, ExamID: "x"})
		require.NoError(t, err)
		_, err = e.Answer(ctx, sess.ID, bank[0], true)
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	slow := make(chan error, 1)
	go func() {
		_, err := e.Next(ctx, ids[0], bank)
		slow <- err
	}()
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first lookup never started")
	}

	fast := make(chan error, 1)
	go func() {
		_, err := e.Next(ctx, ids[1], bank)
		fast <- err
	}()
	select {
	case err := <-fast:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(gate.release)
		t.Fatal("Next for one session waited on another session's exposure lookup")
	}

	close(gate.release)
	require.NoError(t, <-slow)
}

func TestStartStoresRecordPrecisionTimestamps(t *testing.T) {
	store := inmemory.NewInMemorySessionStore(nil)
	e, err := New(DefaultConfig(), Deps{
		Sessions: store,
		Policies: policy.NewResolver(policy.Options{}),
	})
	require.NoError(t, err)

	sess, err := e.Start(context.Background(), StartRequest{UserID: "u", ExamID: "x"})
	require.NoError(t, err)
	assert.Equal(t, sess.StartedAt, sess.StartedAt.UTC().Round(time.Microsecond))
	assert.Equal(t, time.UTC, sess.StartedAt.Location())
}
