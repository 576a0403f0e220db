package redis_repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Conn dials redis and verifies the connection with a bounded PING.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration, log *logger.Logger) (*redis.Client, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		Password:     pass,
		DB:           db,
	})
	if log != nil {
		log.Debug("redis options", "addr", client.Options().Addr, "db", db, "timeout", timeout.String())
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}
