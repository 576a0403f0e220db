package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session/session_object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGetSave(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore(nil)

	sess, err := store.Create(ctx, "u1", "e1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []float64{0}, got.ThetaHistory)

	got.Record(session_object.AnsweredItem{ItemID: "1", A: 1, Correct: true, Info: 0.2}, 0.05, 2.2, got.StartedAt)
	// not persisted until Save
	again, _ := store.Get(ctx, sess.ID)
	assert.Empty(t, again.Answered)

	require.NoError(t, store.Save(ctx, got))
	again, _ = store.Get(ctx, sess.ID)
	assert.Len(t, again.Answered, 1)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	require.NoError(t, store.ClearAll(ctx))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSaveRejectsBrokenHistory(t *testing.T) {
	store := NewInMemorySessionStore(nil)
	sess, _ := store.Create(context.Background(), "u", "e", nil)
	sess.ThetaHistory = nil
	assert.Error(t, store.Save(context.Background(), sess))
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySessionStore(nil)
	var wg sync.WaitGroup
	ids := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := store.Create(ctx, fmt.Sprintf("u%d", i), "e", nil)
			if err != nil {
				return
			}
			for j := 0; j < 10; j++ {
				s, err := store.Get(ctx, sess.ID)
				if err != nil {
					return
				}
				s.Record(session_object.AnsweredItem{ItemID: models.IntItemID(int64(j)), A: 1, Info: 0.1}, 0, 1, s.StartedAt)
				_ = store.Save(ctx, s)
			}
			ids <- sess.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	assert.Equal(t, 64, store.Len())
	for id := range ids {
		s, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, s.Answered, 10)
	}
}
