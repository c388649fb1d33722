// Package sharedfunc lets workers share the result of an expensive call:
// one worker computes it under a lock, the others wait for the stored
// result. Results live in a Storage, a local directory or redis.
package sharedfunc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"robottelo/internal/settings"
)

// ErrNotFound is returned by Get for absent or expired keys.
var ErrNotFound = errors.New("key not found")

// Storage is a small key/value store shared between workers. Keys are
// namespaced by the storage's scope.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets key only if absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	// Wait blocks until key may have changed: a write was observed or a
	// poll interval elapsed. Callers re-check their condition afterwards.
	Wait(ctx context.Context, key string) error
	Close() error
}

// NewStorage builds the storage selected by the shared_function section.
func NewStorage(cfg settings.SharedFunction) (Storage, error) {
	switch cfg.Storage {
	case "", "file":
		dir := cfg.StorageDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "robottelo-shared")
		}
		return NewFileStorage(dir, cfg.Scope)
	case "redis":
		return NewRedisStorage(RedisOptions{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Scope:    cfg.Scope,
		})
	}
	return nil, fmt.Errorf("unknown shared_function storage %q", cfg.Storage)
}
