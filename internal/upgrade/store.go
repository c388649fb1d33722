// Package upgrade keeps the data pre-upgrade tests save for their
// post-upgrade counterparts.
package upgrade

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"robottelo/pkg/logging"
)

// Store is a YAML file mapping test names to saved data. A pre-upgrade run
// and the post-upgrade run that follows it share the file.
type Store struct {
	path string
	mu   sync.RWMutex
	data map[string]map[string]any
}

// Open loads path if it exists. An empty path keeps data in memory only.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]map[string]any)}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upgrade data: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to parse upgrade data %s: %w", path, err)
	}
	if s.data == nil {
		s.data = make(map[string]map[string]any)
	}
	logging.Debug("Upgrade", "Loaded saved data of %d tests from %s", len(s.data), path)
	return s, nil
}

// Save records data for test and persists the file.
func (s *Store) Save(test string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	s.data[test] = copied
	return s.flush()
}

// Load returns the data saved by test.
func (s *Store) Load(test string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[test]
	return d, ok
}

// Has reports whether test saved data.
func (s *Store) Has(test string) bool {
	_, ok := s.Load(test)
	return ok
}

// Tests lists tests with saved data, sorted.
func (s *Store) Tests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) flush() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(s.data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
