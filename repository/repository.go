package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/mohammad-safakhou/catengine/models"
	"github.com/mohammad-safakhou/catengine/repository/memory_repository"
	"github.com/mohammad-safakhou/catengine/repository/redis_repository"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = models.ErrKeyNotFound

// KV is the minimal key-value surface shared state is mirrored through.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan returns every key matching a glob pattern.
	Scan(ctx context.Context, match string) ([]string, error)
}

type RepoType string

const (
	RepoTypeRedis  RepoType = "redis"
	RepoTypeMemory RepoType = "memory"
)

// RedisOptions are the connection knobs for the redis backend.
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewKV builds the requested backend. A redis backend that fails its ping is an error;
// callers decide whether to fall back.
func NewKV(ctx context.Context, t RepoType, opts RedisOptions, log *logger.Logger) (KV, error) {
	switch t {
	case RepoTypeRedis:
		c, err := redis_repository.Conn(ctx, opts.Host, opts.Port, opts.Password, opts.DB, opts.Timeout, log)
		if err != nil {
			return nil, err
		}
		return redis_repository.NewKV(c, opts.Timeout), nil
	case RepoTypeMemory:
		return memory_repository.NewKV(nil), nil
	}
	return nil, fmt.Errorf("invalid repository type: %s", t)
}
