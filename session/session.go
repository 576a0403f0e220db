package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/mohammad-safakhou/catengine/repository/redis_repository"
	"github.com/mohammad-safakhou/catengine/session/inmemory"
	redis_session "github.com/mohammad-safakhou/catengine/session/redis"
	"github.com/mohammad-safakhou/catengine/session/session_object"
)

type (
	Session      = session_object.Session
	AnsweredItem = session_object.AnsweredItem
)

// Store persists exam sessions. Get returns models.ErrSessionNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, userID, examID string, timeLimit *time.Duration) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	ClearAll(ctx context.Context) error
}

type StoreType string

const (
	InMemoryStore StoreType = "memory"
	RedisStore    StoreType = "redis"
)

// Options selects and configures the backend.
type Options struct {
	Type      StoreType
	TTL       time.Duration
	KeyPrefix string
	Host      string
	Port      string
	Password  string
	DB        int
	Timeout   time.Duration
}

// NewStore builds the configured backend once. When redis is requested but does
// not answer a ping the in-memory backend is used instead and the returned type
// reflects that.
func NewStore(ctx context.Context, opts Options, log *logger.Logger) (Store, StoreType, error) {
	switch StoreType(strings.ToLower(string(opts.Type))) {
	case "", InMemoryStore, "inmemory":
		return inmemory.NewInMemorySessionStore(nil), InMemoryStore, nil
	case RedisStore:
		client, err := redis_repository.Conn(ctx, opts.Host, opts.Port, opts.Password, opts.DB, opts.Timeout, log)
		if err != nil {
			if log != nil {
				log.Warn("redis session backend unavailable, falling back to in-memory", "error", err)
			}
			return inmemory.NewInMemorySessionStore(nil), InMemoryStore, nil
		}
		return redis_session.NewRedisSessionStore(client, redis_session.Options{
			KeyPrefix: opts.KeyPrefix,
			TTL:       opts.TTL,
			Timeout:   opts.Timeout,
		}), RedisStore, nil
	}
	return nil, "", fmt.Errorf("unsupported session store type: %s", opts.Type)
}
