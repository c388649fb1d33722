package sharedfunc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"robottelo/pkg/logging"
)

const (
	redisPoll          = time.Second
	redisChannelSuffix = ":changed"
)

// RedisOptions configures RedisStorage.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Scope prefixes every key so unrelated sessions on one server do not collide.
	Scope string
}

// RedisStorage shares results between hosts through a redis server. Writes
// publish the key on a notification channel that Wait subscribes to.
type RedisStorage struct {
	rdb   *redis.Client
	scope string
	poll  time.Duration
}

// NewRedisStorage connects and pings the server.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	logging.Debug("SharedFunction", "Connected to redis at %s (db %d)", opts.Addr, opts.DB)
	return &RedisStorage{rdb: rdb, scope: opts.Scope, poll: redisPoll}, nil
}

func (s *RedisStorage) key(k string) string {
	if s.scope == "" {
		return "robottelo:" + k
	}
	return "robottelo:" + s.scope + ":" + k
}

func (s *RedisStorage) notify(ctx context.Context, k string) {
	if err := s.rdb.Publish(ctx, s.key(k)+redisChannelSuffix, "1").Err(); err != nil {
		logging.Debug("SharedFunction", "Publish for %s failed: %v", k, err)
	}
}

func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return err
	}
	s.notify(ctx, key)
	return nil
}

func (s *RedisStorage) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		s.notify(ctx, key)
	}
	return ok, nil
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return err
	}
	s.notify(ctx, key)
	return nil
}

func (s *RedisStorage) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, err
	}
	s.notify(ctx, key)
	return n, nil
}

// Wait returns on the next change notification for key or after the poll
// interval, whichever comes first.
func (s *RedisStorage) Wait(ctx context.Context, key string) error {
	sub := s.rdb.Subscribe(ctx, s.key(key)+redisChannelSuffix)
	defer sub.Close()
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-sub.Channel():
		return nil
	}
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
