package redis_session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/session/session_object"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "adaptive:"
	DefaultTTL       = 24 * time.Hour
)

type Options struct {
	KeyPrefix string
	TTL       time.Duration
	Timeout   time.Duration
	Now       func() time.Time
}

// Store keeps each session as one JSON record under <prefix>session:<id>.
type Store struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewRedisSessionStore(client *redis.Client, opts Options) *Store {
	s := &Store{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL, timeout: opts.Timeout, now: opts.Now}
	if s.prefix == "" {
		s.prefix = DefaultKeyPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (store *Store) key(id string) string {
	return fmt.Sprintf("%ssession:%s", store.prefix, id)
}

func (store *Store) Create(ctx context.Context, userID, examID string, timeLimit *time.Duration) (*session_object.Session, error) {
	sess := session_object.New(uuid.NewString(), userID, examID, timeLimit, store.now())
	if err := store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (store *Store) Get(ctx context.Context, id string) (*session_object.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()
	val, err := store.client.Get(ctx, store.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess session_object.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Save rewrites the record and refreshes its TTL.
func (store *Store) Save(ctx context.Context, sess *session_object.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()
	if err := store.client.Set(ctx, store.key(sess.ID), data, store.ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// ClearAll deletes every session record under the configured prefix.
func (store *Store) ClearAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()
	iter := store.client.Scan(ctx, 0, store.prefix+"session:*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := store.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return store.client.Del(ctx, batch...).Err()
	}
	return nil
}
