package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"robottelo/pkg/logging"
)

const (
	// EnvPrefix is the prefix of environment overrides.
	EnvPrefix = "ROBOTTELO_"
	// EnvSeparator separates path segments in override names:
	// ROBOTTELO_SERVER__HOSTNAME sets server.hostname.
	EnvSeparator = "__"
)

// Source is one layer of configuration. Layers are merged in the order given
// to Load; the last one wins per leaf.
type Source struct {
	name  string
	apply func(v *viper.Viper) error
}

func (s Source) String() string { return s.name }

// File reads a YAML settings file. A missing file is an error.
func File(path string) Source {
	return Source{name: "file " + path, apply: func(v *viper.Viper) error {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
		return nil
	}}
}

// OptionalFile is File that silently skips a path that does not exist,
// typically settings.local.yaml.
func OptionalFile(path string) Source {
	return Source{name: "optional file " + path, apply: func(v *viper.Viper) error {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logging.Debug("Settings", "Optional settings file %s not found, skipping", path)
			return nil
		}
		return File(path).apply(v)
	}}
}

// Env reads overrides from the process environment.
func Env(prefix string) Source {
	return EnvFrom(prefix, os.Environ())
}

// EnvFrom reads overrides from a KEY=VALUE list. Values are parsed as YAML
// scalars so "443" becomes an int and "true" a bool.
func EnvFrom(prefix string, environ []string) Source {
	return Source{name: "env " + prefix, apply: func(v *viper.Viper) error {
		flat := make(map[string]any)
		for _, kv := range environ {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || !strings.HasPrefix(key, prefix) {
				continue
			}
			path := envKeyToPath(strings.TrimPrefix(key, prefix))
			if path == "" {
				continue
			}
			flat[path] = parseEnvValue(value)
		}
		if len(flat) == 0 {
			return nil
		}
		logging.Debug("Settings", "Applying %d environment overrides", len(flat))
		return v.MergeConfigMap(nest(flat))
	}}
}

// Overrides applies explicit dotted-path values, e.g. from --set flags.
func Overrides(values map[string]any) Source {
	return Source{name: "overrides", apply: func(v *viper.Viper) error {
		if len(values) == 0 {
			return nil
		}
		return v.MergeConfigMap(nest(values))
	}}
}

// Map merges an already nested document.
func Map(doc map[string]any) Source {
	return Source{name: "map", apply: func(v *viper.Viper) error {
		return v.MergeConfigMap(Tree(doc).Clone())
	}}
}

func envKeyToPath(key string) string {
	parts := strings.Split(key, EnvSeparator)
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
		if parts[i] == "" {
			return ""
		}
	}
	return strings.Join(parts, ".")
}

func parseEnvValue(raw string) any {
	var out any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return raw
	}
	// A mapping is not a leaf; keep the literal text.
	if _, ok := out.(map[string]any); ok {
		return raw
	}
	return out
}

// ParseAssignments turns ["server.port=8443"] into override values.
func ParseAssignments(assignments []string) (map[string]any, error) {
	out := make(map[string]any, len(assignments))
	for _, a := range assignments {
		key, value, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected path=value", a)
		}
		out[strings.TrimSpace(key)] = parseEnvValue(value)
	}
	return out, nil
}

// Load merges sources into a new, unconfigured Settings.
func Load(sources ...Source) (*Settings, error) {
	v := viper.New()
	for _, src := range sources {
		if err := src.apply(v); err != nil {
			return nil, err
		}
		logging.Debug("Settings", "Merged settings source %s", src)
	}
	tree := Tree(v.AllSettings())
	return &Settings{tree: tree.Clone()}, nil
}
