package template

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	texttemplate "text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig/v3"
)

// referencePattern matches a whole string that is one reference.
var referencePattern = regexp.MustCompile(`^\{\{-?\s*\.([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\s*-?\}\}$`)

// Engine renders templated values with text/template and the sprig
// function library.
type Engine struct {
	funcs texttemplate.FuncMap
}

// New creates an engine. extra functions override sprig's.
func New(extra ...texttemplate.FuncMap) *Engine {
	funcs := sprig.TxtFuncMap()
	for _, m := range extra {
		for name, fn := range m {
			funcs[name] = fn
		}
	}
	return &Engine{funcs: funcs}
}

// Replace renders every template in value: strings, and recursively the
// values of maps and the elements of slices. A string that is exactly one
// reference such as "{{ .module_org.id }}" yields the referenced value with
// its type; anything else renders to a string.
func (e *Engine) Replace(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.replaceString(v, data)
	case map[string]any:
		return e.replaceMap(v, data)
	case []any:
		return e.replaceSlice(v, data)
	default:
		return value, nil
	}
}

// Render renders a single string template.
func (e *Engine) Render(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := texttemplate.New("value").Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid template %q: %w", text, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %q: %w", text, err)
	}
	return buf.String(), nil
}

func (e *Engine) replaceString(text string, data map[string]any) (any, error) {
	if m := referencePattern.FindStringSubmatch(text); m != nil {
		if v, ok := lookup(data, strings.Split(m[1], ".")); ok {
			return v, nil
		}
	}
	return e.Render(text, data)
}

func (e *Engine) replaceMap(m map[string]any, data map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for key, value := range m {
		replaced, err := e.Replace(value, data)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		result[key] = replaced
	}
	return result, nil
}

func (e *Engine) replaceSlice(s []any, data map[string]any) ([]any, error) {
	result := make([]any, len(s))
	for i, value := range s {
		replaced, err := e.Replace(value, data)
		if err != nil {
			return nil, fmt.Errorf("error at index %d: %w", i, err)
		}
		result[i] = replaced
	}
	return result, nil
}

// lookup walks maps with string keys and exported struct fields.
func lookup(data map[string]any, path []string) (any, bool) {
	var cur any = data
	for _, key := range path {
		rv := reflect.ValueOf(cur)
		for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
			if rv.IsNil() {
				return nil, false
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Map:
			if rv.Type().Key().Kind() != reflect.String {
				return nil, false
			}
			v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
			if !v.IsValid() {
				return nil, false
			}
			cur = v.Interface()
		case reflect.Struct:
			f := rv.FieldByName(key)
			if !f.IsValid() || !f.CanInterface() {
				return nil, false
			}
			cur = f.Interface()
		default:
			return nil, false
		}
	}
	return cur, true
}

// ExtractVariables returns the top-level names a value references, sorted.
// Strings that do not parse are ignored; Replace reports them.
func (e *Engine) ExtractVariables(value any) []string {
	variables := make(map[string]bool)
	e.extractVariables(value, variables)

	result := make([]string, 0, len(variables))
	for name := range variables {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (e *Engine) extractVariables(value any, variables map[string]bool) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return
		}
		tmpl, err := texttemplate.New("value").Funcs(e.funcs).Parse(v)
		if err != nil {
			return
		}
		walk(tmpl.Tree.Root, variables)
	case map[string]any:
		for _, val := range v {
			e.extractVariables(val, variables)
		}
	case []any:
		for _, val := range v {
			e.extractVariables(val, variables)
		}
	}
}

// walk collects the first identifier of every field reference on dot.
// Bodies of with and range blocks are skipped; dot is rebound there.
func walk(node parse.Node, out map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, out)
		}
	case *parse.ActionNode:
		walk(n.Pipe, out)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			walk(c, out)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			walk(a, out)
		}
	case *parse.FieldNode:
		out[n.Ident[0]] = true
	case *parse.ChainNode:
		walk(n.Node, out)
	case *parse.IfNode:
		walk(n.Pipe, out)
		walk(n.List, out)
		walk(n.ElseList, out)
	case *parse.WithNode:
		walk(n.Pipe, out)
		walk(n.ElseList, out)
	case *parse.RangeNode:
		walk(n.Pipe, out)
		walk(n.ElseList, out)
	}
}

// ValidateContext ensures every referenced top-level name is present.
func (e *Engine) ValidateContext(value any, data map[string]any) error {
	var missing []string
	for _, name := range e.ExtractVariables(value) {
		if _, exists := data[name]; !exists {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return nil
}
