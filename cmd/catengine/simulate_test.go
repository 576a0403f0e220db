package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/catengine/engine"
	"github.com/mohammad-safakhou/catengine/internal/policy"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimEngine(t *testing.T, maxItems int) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Stop.MaxItems = maxItems
	cfg.Stop.TimeLimit = nil
	cfg.Stop.SEThreshold = 0
	eng, err := engine.New(cfg, engine.Deps{
		Sessions: inmemory.NewInMemorySessionStore(nil),
		Policies: policy.NewResolver(policy.Options{Default: models.SelectionPolicy{PreferBalanced: true}}),
		Rand:     rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	return eng
}

func TestSimulateExamineeStopsAtMaxItems(t *testing.T) {
	eng := newSimEngine(t, 5)
	bank := syntheticBank(30, rand.New(rand.NewSource(3)))

	sum, err := simulateExaminee(context.Background(), eng, "u", bank, func(models.Item) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Answered)
	assert.Equal(t, 5, sum.Correct)
	assert.Greater(t, sum.Theta, 0.0)
}

func TestSimulateExamineeRunsOutOfItems(t *testing.T) {
	eng := newSimEngine(t, 50)
	bank := syntheticBank(4, rand.New(rand.NewSource(3)))

	sum, err := simulateExaminee(context.Background(), eng, "u", bank, func(models.Item) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Answered)
	assert.Less(t, sum.Theta, 0.0)
}

func TestSyntheticBank(t *testing.T) {
	bank := syntheticBank(8, rand.New(rand.NewSource(1)))
	require.Len(t, bank, 8)
	for i, it := range bank {
		assert.Equal(t, models.IntItemID(int64(i+1)), it.ID)
		assert.GreaterOrEqual(t, it.A, 0.8)
		assert.Less(t, it.C, 0.2)
		assert.Equal(t, simTopics[i%len(simTopics)], it.Topic)
	}
}

func TestSimulationEngineUsesConfiguredSessionBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "general:\n  log_mode: dev\nsession:\n  backend: memory\nstop:\n  max_items: 3\n  se_threshold: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	a, err := loadApp(path)
	require.NoError(t, err)

	ctx := context.Background()
	eng, err := a.simulationEngine(ctx, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	bank := syntheticBank(10, rand.New(rand.NewSource(2)))
	sum, err := simulateExaminee(ctx, eng, "u", bank, func(models.Item) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Answered)

	view, err := eng.State(ctx, sum.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, view.AnsweredCount)
}
