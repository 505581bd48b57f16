// Package redisindex keeps the refresh token lookup index in Redis. Entries
// expire together with their tokens, and the index can always be rebuilt from
// the durable token store.
package redisindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"idgate.org/internal/auth"
)

const defaultPrefix = "idgate:rt:"

// Options configures the Redis connection.
type Options struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Prefix       string
}

// commands is the subset of redis.Cmdable the index uses.
type commands interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Index struct {
	rdb    commands
	prefix string
	now    func() time.Time
}

var _ auth.TokenIndex = (*Index)(nil)

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, opts Options) (*Index, *redis.Client, error) {
	if opts.Addr == "" {
		return nil, nil, fmt.Errorf("redis: address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}
	return New(client, opts.Prefix, time.Now), client, nil
}

// New wraps a client. An empty prefix uses "idgate:rt:".
func New(rdb commands, prefix string, now func() time.Time) *Index {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &Index{rdb: rdb, prefix: prefix, now: now}
}

func (x *Index) key(token string) string { return x.prefix + token }

// Put stores the owner with a TTL ending at expiresAt. Already expired tokens are skipped.
func (x *Index) Put(ctx context.Context, token string, accountID int64, expiresAt time.Time) error {
	ttl := expiresAt.Sub(x.now())
	if ttl <= 0 {
		return nil
	}
	if err := x.rdb.Set(ctx, x.key(token), strconv.FormatInt(accountID, 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set token index: %w", err)
	}
	return nil
}

func (x *Index) Lookup(ctx context.Context, token string) (int64, bool, error) {
	v, err := x.rdb.Get(ctx, x.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get token index: %w", err)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: corrupt token index entry: %w", err)
	}
	return id, true, nil
}

func (x *Index) Remove(ctx context.Context, tokens ...string) error {
	if len(tokens) == 0 {
		return nil
	}
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = x.key(t)
	}
	if err := x.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: delete token index: %w", err)
	}
	return nil
}
