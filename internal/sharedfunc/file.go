package sharedfunc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"robottelo/pkg/logging"
)

const (
	lockRetry  = 5 * time.Millisecond
	staleLock  = 30 * time.Second
	filePoll   = 500 * time.Millisecond
	fileSuffix = ".yaml"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type fileEntry struct {
	Value   string    `yaml:"value"`
	Expires time.Time `yaml:"expires,omitempty"`
}

// FileStorage keeps one YAML file per key in a directory. It works across
// processes on one host; writes are atomic renames guarded by lock files.
type FileStorage struct {
	dir   string
	scope string
	mu    sync.Mutex
	poll  time.Duration
}

// NewFileStorage creates dir if needed.
func NewFileStorage(dir, scope string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create shared storage dir: %w", err)
	}
	return &FileStorage{dir: dir, scope: scope, poll: filePoll}, nil
}

func (s *FileStorage) path(key string) string {
	name := key
	if s.scope != "" {
		name = s.scope + "_" + key
	}
	return filepath.Join(s.dir, unsafeChars.ReplaceAllString(name, "_")+fileSuffix)
}

func (s *FileStorage) lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	lockPath := s.path(key) + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() {
				_ = os.Remove(lockPath)
				s.mu.Unlock()
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			s.mu.Unlock()
			return nil, err
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLock {
			logging.Warn("SharedFunction", "Removing stale lock %s", lockPath)
			_ = os.Remove(lockPath)
			continue
		}
		select {
		case <-ctx.Done():
			s.mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func (s *FileStorage) read(key string) (*fileEntry, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e fileEntry
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("corrupt shared entry %s: %w", key, err)
	}
	if !e.Expires.IsZero() && time.Now().After(e.Expires) {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *FileStorage) write(key string, value []byte, ttl time.Duration) error {
	e := fileEntry{Value: string(value)}
	if ttl > 0 {
		e.Expires = time.Now().Add(ttl)
	}
	raw, err := yaml.Marshal(&e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

func (s *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := s.read(key)
	if err != nil {
		return nil, err
	}
	return []byte(e.Value), nil
}

func (s *FileStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(key, value, ttl)
}

func (s *FileStorage) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()
	if _, err := s.read(key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, s.write(key, value, ttl)
}

func (s *FileStorage) Delete(ctx context.Context, key string) error {
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStorage) Incr(ctx context.Context, key string) (int64, error) {
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	if e, err := s.read(key); err == nil {
		if n, err = strconv.ParseInt(e.Value, 10, 64); err != nil {
			return 0, fmt.Errorf("shared key %s is not a counter: %w", key, err)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	n++
	return n, s.write(key, []byte(strconv.FormatInt(n, 10)), 0)
}

// Wait watches the storage directory for writes to key.
func (s *FileStorage) Wait(ctx context.Context, key string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return err
	}
	target := s.path(key)
	timer := time.NewTimer(s.poll)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.Debug("SharedFunction", "Watcher error on %s: %v", s.dir, err)
			return nil
		}
	}
}

func (s *FileStorage) Close() error { return nil }
