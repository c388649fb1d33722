package plan

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"robottelo/internal/selection"
)

// Step actions.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionSearch = "search"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionInvoke = "invoke"
	ActionExec   = "exec"
	ActionSave   = "save"
)

var actions = []string{ActionCreate, ActionRead, ActionSearch, ActionUpdate, ActionDelete, ActionInvoke, ActionExec, ActionSave}

// File is one plan document.
type File struct {
	// Path is where the plan was loaded from.
	Path string `yaml:"-"`
	// Module is the default module of the file's tests. Defaults to the
	// file name without extension.
	Module   string        `yaml:"module,omitempty"`
	Fixtures []FixtureSpec `yaml:"fixtures,omitempty"`
	Tests    []TestSpec    `yaml:"tests,omitempty"`
}

// FixtureSpec declares an entity fixture: one entity of Kind created from
// templated Attrs on the target server.
type FixtureSpec struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Scope       string         `yaml:"scope,omitempty"`
	Kind        string         `yaml:"kind"`
	Attrs       map[string]any `yaml:"attrs,omitempty"`
	Requires    []string       `yaml:"requires,omitempty"`
	// Capabilities are settings sections that must be configured.
	Capabilities []string `yaml:"capabilities,omitempty"`
	// Params yields one instance per value, visible as .param in Attrs.
	Params []any `yaml:"params,omitempty"`
	// Indirect lists parametrize names of consuming tests whose value is
	// used as .param instead.
	Indirect []string `yaml:"indirect,omitempty"`
}

// TestSpec declares a test item.
type TestSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Module      string       `yaml:"module,omitempty"`
	Markers     []MarkerSpec `yaml:"markers,omitempty"`
	Fixtures    []string     `yaml:"fixtures,omitempty"`
	Parametrize []ParamSpec  `yaml:"parametrize,omitempty"`
	Steps       []Step       `yaml:"steps"`
	// Cleanup steps run after Steps whatever their outcome. Their failures
	// are logged and reported but do not fail the test.
	Cleanup []Step `yaml:"cleanup,omitempty"`
}

// ParamSpec is one parametrize axis.
type ParamSpec struct {
	Name   string `yaml:"name"`
	Values []any  `yaml:"values"`
}

// Step is one remote operation and its expectation.
type Step struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description,omitempty"`
	Action      string         `yaml:"action"`
	Kind        string         `yaml:"kind,omitempty"`
	Args        map[string]any `yaml:"args,omitempty"`
	Expected    Expectation    `yaml:"expected,omitempty"`
	Retry       *RetryConfig   `yaml:"retry,omitempty"`
	// Timeout bounds the step, including task polling for invoke.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Expectation describes the expected outcome of a step. Field values are
// templated with the step result available as .result.
type Expectation struct {
	// Success defaults to true.
	Success        *bool          `yaml:"success,omitempty"`
	ErrorContains  []string       `yaml:"error_contains,omitempty"`
	Fields         map[string]any `yaml:"fields,omitempty"`
	Count          *int           `yaml:"count,omitempty"`
	StdoutContains []string       `yaml:"stdout_contains,omitempty"`
	Status         *int           `yaml:"status,omitempty"`
}

func (e Expectation) success() bool {
	return e.Success == nil || *e.Success
}

// RetryConfig retries a step whose expectation did not hold.
type RetryConfig struct {
	Count int           `yaml:"count"`
	Delay time.Duration `yaml:"delay"`
}

// MarkerSpec is a marker in plan YAML: a bare name ("tier1"), a name with
// arguments ({requires: [ldap]}) or with keyword arguments
// ({post_upgrade: {depends_on: [test_pre_cv]}}).
type MarkerSpec selection.Marker

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MarkerSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*m = MarkerSpec{Name: node.Value}
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: a marker mapping has exactly one key", node.Line)
		}
		name := node.Content[0].Value
		value := node.Content[1]
		switch value.Kind {
		case yaml.ScalarNode:
			var arg any
			if err := value.Decode(&arg); err != nil {
				return err
			}
			*m = MarkerSpec{Name: name, Args: []any{arg}}
		case yaml.SequenceNode:
			var args []any
			if err := value.Decode(&args); err != nil {
				return err
			}
			*m = MarkerSpec{Name: name, Args: args}
		case yaml.MappingNode:
			var kwargs map[string]any
			if err := value.Decode(&kwargs); err != nil {
				return err
			}
			*m = MarkerSpec{Name: name, Kwargs: kwargs}
		default:
			return fmt.Errorf("line %d: unsupported marker value for %s", value.Line, name)
		}
		return nil
	}
	return fmt.Errorf("line %d: a marker is a name or a one-key mapping", node.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (m MarkerSpec) MarshalYAML() (any, error) {
	switch {
	case len(m.Kwargs) > 0:
		return map[string]any{m.Name: m.Kwargs}, nil
	case len(m.Args) > 0:
		return map[string]any{m.Name: m.Args}, nil
	}
	return m.Name, nil
}
