package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/recalibration"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "bank.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestItemsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	require.NoError(t, s.UpsertItem(ctx, models.Item{ID: "1", A: 1.2, B: -0.5, C: 0.2, Topic: "Algebra"}))
	require.NoError(t, s.UpsertItem(ctx, models.Item{ID: "2", A: 0.8, B: 0.4, C: 0.1}))
	require.NoError(t, s.UpsertItem(ctx, models.Item{ID: "1", A: 1.3, B: -0.4, C: 0.2, Topic: "Algebra"}))

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.Item{ID: "1", A: 1.3, B: -0.4, C: 0.2, Topic: "Algebra"}, items[0])
	assert.Equal(t, "", items[1].Topic)
}

func TestStatsAndPersistWithChangeLog(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	fixed := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.UpsertItem(ctx, models.Item{ID: "10", A: 1, B: 0.5, C: 0.2}))
	require.NoError(t, s.UpsertItem(ctx, models.Item{ID: "11", A: 1, B: 0, C: 0}))
	for i, correct := range []bool{true, false, false, false} {
		require.NoError(t, s.RecordResponse(ctx, "s1", "10", correct, fixed.Add(time.Duration(i)*time.Second)))
	}

	stats, err := s.FetchItemStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1, "items without responses are absent from the view")
	assert.Equal(t, models.ItemID("10"), stats[0].ItemID)
	assert.InDelta(t, 0.25, stats[0].CorrectRate, 1e-9)
	require.NotNil(t, stats[0].Responses)
	assert.Equal(t, 4, *stats[0].Responses)

	runner := recalibration.NewRunner(s, s, recalibration.RunnerOptions{TargetRate: 0.5, LearningRate: 0.1}, nil)
	rep, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)

	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.475, items[0].B, 1e-9)

	changes, err := s.ListParamChanges(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ItemID("10"), changes[0].ItemID)
	require.NotNil(t, changes[0].OldB)
	assert.Equal(t, 0.5, *changes[0].OldB)
	assert.InDelta(t, 0.475, changes[0].NewB, 1e-9)
	assert.Equal(t, fixed, changes[0].ChangedAt)
}

func TestPersistNewItemWithoutChangeLog(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "bank.db")
	tables := DefaultTables()
	tables.ChangeLog = ""
	s, err := Open(ctx, Options{Driver: DriverSQLite, DSN: dsn, Tables: tables})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PersistItemParams(ctx, "run_x", recalibration.ParamUpdate{ItemID: "new", A: 1, B: 0.3, C: 0.1}))
	items, err := s.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0.3, items[0].B)

	changes, err := s.ListParamChanges(ctx, "run_x")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestOverexposedItems(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	now := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-48 * time.Hour) }
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordExposure(ctx, "old", "u", "e", "stale"))
	}
	s.now = func() time.Time { return now.Add(-time.Hour) }
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordExposure(ctx, "s", "u", "e", "hot"))
	}
	require.NoError(t, s.RecordExposure(ctx, "s", "u", "e", "cool"))

	s.now = func() time.Time { return now }
	got, err := s.OverexposedItemIDs(ctx, 3, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, map[models.ItemID]struct{}{"hot": {}}, got)

	got, err = s.OverexposedItemIDs(ctx, 0, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInitialThetaAndCompletion(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)

	theta, err := s.InitialTheta(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, theta)

	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordCompletion(ctx, models.Completion{SessionID: "a", UserID: "u1", ExamID: "e1", Theta: 0.4, SE: 0.3, ScaledScore: 106, Answered: 12, CompletedAt: base}))
	require.NoError(t, s.RecordCompletion(ctx, models.Completion{SessionID: "b", UserID: "u1", ExamID: "e1", Theta: 1.1, SE: 0.28, ScaledScore: 116.5, Answered: 15, CompletedAt: base.Add(time.Hour)}))
	require.NoError(t, s.RecordCompletion(ctx, models.Completion{SessionID: "c", UserID: "u1", ExamID: "e2", Theta: -2, SE: 0.5, ScaledScore: 70, Answered: 3, CompletedAt: base.Add(2 * time.Hour)}))

	theta, err = s.InitialTheta(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, 1.1, theta)

	// re-finishing a session overwrites its row
	require.NoError(t, s.RecordCompletion(ctx, models.Completion{SessionID: "a", UserID: "u1", ExamID: "e1", Theta: 2.0, SE: 0.25, ScaledScore: 130, Answered: 20, CompletedAt: base.Add(3 * time.Hour)}))
	theta, err = s.InitialTheta(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, theta)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestRejectsUnsafeTableNames(t *testing.T) {
	_, err := New(nil, DriverSQLite, Tables{Items: "items; DROP TABLE x"})
	assert.Error(t, err)
}
