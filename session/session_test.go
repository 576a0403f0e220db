package session

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFallsBackWhenRedisIsDown(t *testing.T) {
	store, typ, err := NewStore(context.Background(), Options{
		Type:    RedisStore,
		Host:    "127.0.0.1",
		Port:    "1",
		Timeout: 200 * time.Millisecond,
	}, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, InMemoryStore, typ)
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	_, _, err := NewStore(context.Background(), Options{Type: "etcd"}, nil)
	assert.Error(t, err)
}
