// Package lock provides a Redis lease so that overlapping sweep triggers from
// several worker replicas run one at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

type Lease struct {
	Redis *redis.Client
	Key   string
	TTL   time.Duration
}

// NewClient parses url and checks the connection, like the cache client does.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}
	return client, nil
}

func NewLease(client *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{Redis: client, Key: key, TTL: ttl}
}

// Acquire returns a token when the lease was free. ok is false when another
// holder has it.
func (l *Lease) Acquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.Redis.SetNX(ctx, l.Key, token, l.TTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", l.Key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lease back if token still owns it. Releasing an expired or
// foreign lease is a no-op.
func (l *Lease) Release(ctx context.Context, token string) error {
	err := releaseScript.Run(ctx, l.Redis, []string{l.Key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	return nil
}

// Do runs fn while holding the lease. It reports false without calling fn
// when the lease is taken.
func (l *Lease) Do(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	token, ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer l.Release(context.Background(), token)
	return true, fn(ctx)
}
