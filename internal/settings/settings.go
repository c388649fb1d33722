package settings

import (
	"fmt"
	"sort"
	"sync"

	"robottelo/pkg/logging"
)

// Settings is a loaded settings tree plus the report of the last Configure.
// It is safe for concurrent readers.
type Settings struct {
	mu     sync.RWMutex
	tree   Tree
	report *Report
}

// New wraps an already nested document without going through Load.
func New(doc map[string]any) *Settings {
	return &Settings{tree: Tree(doc).Clone()}
}

// Configure walks the catalog once in declaration order. Validation failures
// produce a *ConfigurationError unless
// robottelo.settings.ignore_validation_errors is set, in which case they are
// logged and the affected sections lose their capability.
func (s *Settings) Configure(cat Catalog) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := newReport()
	for _, section := range cat {
		present := s.tree.Has(section.Name)
		status := &SectionStatus{}
		report.Sections[section.Name] = status

		for _, v := range section.Validators {
			if !present && !section.Implicit {
				// Absent sections are only touched by gated validators
				// whose condition holds.
				if v.Condition == nil || !v.Condition.holds(s.tree) {
					continue
				}
			}
			failures := v.apply(section.Name, s.tree)
			status.Failed += len(failures)
			report.Failures = append(report.Failures, failures...)
		}

		status.Present = s.tree.Has(section.Name)
		status.Configured = status.Present && status.Failed == 0
	}
	s.report = report

	if !report.HasFailures() {
		logging.Debug("Settings", "Settings configured, %d sections ready", len(report.ConfiguredSections()))
		return report, nil
	}

	if ignore, _ := s.tree.Lookup("robottelo.settings.ignore_validation_errors"); ignore == true {
		report.Downgraded = true
		for _, f := range report.Failures {
			logging.Warn("Settings", "Ignoring settings validation failure [%s] %s", f.Section, f)
		}
		return report, nil
	}
	return report, &ConfigurationError{Report: report}
}

// Report returns the report of the last Configure, or nil.
func (s *Settings) Report() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Capability reports whether a section is present and passed validation in
// the most recent Configure.
func (s *Settings) Capability(section string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report.Configured(section)
}

// Missing returns the failing paths of a section. An absent section yields
// the section name itself.
func (s *Settings) Missing(section string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for _, f := range s.report.FailuresFor(section) {
		paths = append(paths, f.Path)
	}
	if len(paths) == 0 && !s.tree.Has(section) {
		paths = []string{section}
	}
	return paths
}

// Get returns the value at a dotted path.
func (s *Settings) Get(path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Get(path)
}

// Set replaces a value. Capabilities are not recomputed until the next
// Configure.
func (s *Settings) Set(path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Set(path, value)
}

// Tree returns a deep copy of the settings document.
func (s *Settings) Tree() Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Clone()
}

// String returns the value at path as a string.
func (s *Settings) String(path string) (string, error) {
	v, err := s.Get(path)
	if err != nil {
		return "", err
	}
	str, err := CastString(v)
	if err != nil {
		return "", fmt.Errorf("settings path %q: %w", path, err)
	}
	return str.(string), nil
}

// Int returns the value at path as an int.
func (s *Settings) Int(path string) (int, error) {
	v, err := s.Get(path)
	if err != nil {
		return 0, err
	}
	i, err := CastInt(v)
	if err != nil {
		return 0, fmt.Errorf("settings path %q: %w", path, err)
	}
	return i.(int), nil
}

// Bool returns the value at path as a bool.
func (s *Settings) Bool(path string) (bool, error) {
	v, err := s.Get(path)
	if err != nil {
		return false, err
	}
	b, err := CastBool(v)
	if err != nil {
		return false, fmt.Errorf("settings path %q: %w", path, err)
	}
	return b.(bool), nil
}

// Strings returns a list value as strings.
func (s *Settings) Strings(path string) ([]string, error) {
	v, err := s.Get(path)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return append([]string(nil), ss...), nil
		}
		return nil, fmt.Errorf("settings path %q: %T is not a list", path, v)
	}
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = fmt.Sprint(item)
	}
	return out, nil
}

// Sections returns the top-level keys present in the tree.
func (s *Settings) Sections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.tree.Sections()
	sort.Strings(names)
	return names
}

var (
	currentMu sync.Mutex
	current   *Settings
)

// Init installs the process-wide settings. It may be called once; later calls
// return ErrAlreadyInitialized.
func Init(s *Settings) error {
	currentMu.Lock()
	defer currentMu.Unlock()
	if current != nil {
		return ErrAlreadyInitialized
	}
	current = s
	return nil
}

// Current returns the process-wide settings or nil before Init.
func Current() *Settings {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

func reset() {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = nil
}
