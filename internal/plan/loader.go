package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"robottelo/internal/client"
	"robottelo/internal/fixture"
	"robottelo/pkg/logging"
)

// Load reads plans from a YAML file or, recursively, from every .yaml and
// .yml file of a directory, in lexical order.
func Load(path string) ([]*File, error) {
	logging.Debug("Plan", "Loading plans from %s", path)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("plan path does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat plan path: %w", err)
	}

	var files []*File
	if !info.IsDir() {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	} else {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isYAMLFile(p) {
				return nil
			}
			f, err := LoadFile(p)
			if err != nil {
				return err
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load plans from directory %s: %w", path, err)
		}
	}

	if err := validateAll(files); err != nil {
		return nil, err
	}
	for _, f := range files {
		logging.Debug("Plan", "  • %s: %d fixtures, %d tests", f.Path, len(f.Fixtures), len(f.Tests))
	}
	return files, nil
}

// LoadFile reads and validates one plan file.
func LoadFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	f, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	f.Path = path
	if f.Module == "" {
		f.Module = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a plan document without validating it.
func Parse(content []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Validate checks the required fields of the file's fixtures and tests.
func (f *File) Validate() error {
	seen := make(map[string]bool)
	for i, spec := range f.Fixtures {
		if err := validateFixture(spec); err != nil {
			return fmt.Errorf("fixture %d: %w", i+1, err)
		}
		if seen[spec.Name] {
			return fmt.Errorf("fixture %s is declared twice", spec.Name)
		}
		seen[spec.Name] = true
	}
	tests := make(map[string]bool)
	for i, ts := range f.Tests {
		if err := validateTest(ts); err != nil {
			return fmt.Errorf("test %d (%s): %w", i+1, ts.Name, err)
		}
		if tests[ts.Name] {
			return fmt.Errorf("test %s is declared twice", ts.Name)
		}
		tests[ts.Name] = true
	}
	return nil
}

func validateFixture(spec FixtureSpec) error {
	if spec.Name == "" {
		return errors.New("fixture name is required")
	}
	if spec.Kind == "" {
		return errors.New("fixture kind is required")
	}
	if !lo.Contains(client.Kinds, client.Kind(spec.Kind)) {
		return fmt.Errorf("unknown entity kind %q", spec.Kind)
	}
	if _, err := fixture.ParseScope(spec.Scope); err != nil {
		return err
	}
	if len(spec.Params) > 0 && len(spec.Indirect) > 0 {
		return errors.New("params and indirect are mutually exclusive")
	}
	return nil
}

func validateTest(ts TestSpec) error {
	if ts.Name == "" {
		return errors.New("test name is required")
	}
	if len(ts.Steps) == 0 {
		return errors.New("test must have at least one step")
	}
	for _, p := range ts.Parametrize {
		if p.Name == "" || len(p.Values) == 0 {
			return errors.New("parametrize needs a name and values")
		}
	}
	ids := make(map[string]bool)
	for i, step := range append(append([]Step(nil), ts.Steps...), ts.Cleanup...) {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if ids[step.ID] {
			return fmt.Errorf("step id %s is used twice", step.ID)
		}
		ids[step.ID] = true
		if lo.Contains(ts.Fixtures, step.ID) {
			return fmt.Errorf("step id %s shadows a fixture", step.ID)
		}
		if lo.Contains(reserved, step.ID) {
			return fmt.Errorf("step id %s is reserved", step.ID)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.ID == "" {
		return errors.New("step id is required")
	}
	if !lo.Contains(actions, step.Action) {
		return fmt.Errorf("unknown action %q, want one of %s", step.Action, strings.Join(actions, ", "))
	}
	switch step.Action {
	case ActionCreate, ActionRead, ActionSearch, ActionUpdate, ActionDelete, ActionInvoke:
		if step.Kind == "" {
			return fmt.Errorf("%s needs a kind", step.Action)
		}
		if !lo.Contains(client.Kinds, client.Kind(step.Kind)) {
			return fmt.Errorf("unknown entity kind %q", step.Kind)
		}
	}
	switch step.Action {
	case ActionRead, ActionUpdate, ActionDelete, ActionInvoke:
		if _, ok := step.Args["id"]; !ok {
			return fmt.Errorf("%s needs args.id", step.Action)
		}
	}
	switch step.Action {
	case ActionInvoke:
		if _, ok := step.Args["action"]; !ok {
			return errors.New("invoke needs args.action")
		}
	case ActionExec:
		if _, ok := step.Args["command"]; !ok {
			return errors.New("exec needs args.command")
		}
	}
	if step.Retry != nil {
		if step.Retry.Count < 0 {
			return errors.New("retry count cannot be negative")
		}
		if step.Retry.Delay < 0 {
			return errors.New("retry delay cannot be negative")
		}
	}
	if step.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}

// validateAll checks what spans files: fixture names are unique across the
// whole set, and test names are unique per module.
func validateAll(files []*File) error {
	fixtures := make(map[string]string)
	tests := make(map[string]string)
	for _, f := range files {
		for _, spec := range f.Fixtures {
			if other, ok := fixtures[spec.Name]; ok && other != f.Path {
				return fmt.Errorf("fixture %s is declared in %s and %s", spec.Name, other, f.Path)
			}
			fixtures[spec.Name] = f.Path
		}
		for _, ts := range f.Tests {
			key := f.moduleOf(ts) + "::" + ts.Name
			if other, ok := tests[key]; ok && other != f.Path {
				return fmt.Errorf("test %s is declared in %s and %s", key, other, f.Path)
			}
			tests[key] = f.Path
		}
	}
	return nil
}

func (f *File) moduleOf(ts TestSpec) string {
	if ts.Module != "" {
		return ts.Module
	}
	return f.Module
}
