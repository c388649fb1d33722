package settings

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind is the type assertion a validator may carry.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInt
	KindBool
	KindFloat
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "any"
	}
}

// Condition gates a validator on another settings value.
type Condition struct {
	Path   string
	Equals any
}

func (c *Condition) holds(t Tree) bool {
	v, ok := t.Lookup(c.Path)
	if !ok {
		return false
	}
	return valuesEqual(v, c.Equals)
}

func (c *Condition) String() string {
	return fmt.Sprintf("%s == %v", c.Path, c.Equals)
}

// Validator is one record of the catalog. Build it with V and the chained
// helpers; the zero value checks nothing.
type Validator struct {
	Paths        []string
	MustExist    bool
	DefaultValue any
	HasDefault   bool
	// DefaultFunc computes the default lazily, e.g. a random scope id.
	DefaultFunc  func() any
	Type         Kind
	IsIn         []any
	Normalize    func(any) any
	CastFunc     func(any) (any, error)
	CheckFunc    func(any) error
	Condition    *Condition
	Alternatives []*Validator
	Message      string
}

// V starts a validator for one or more dotted paths.
func V(paths ...string) *Validator {
	return &Validator{Paths: paths}
}

// AnyOf passes when at least one alternative passes.
func AnyOf(alternatives ...*Validator) *Validator {
	var paths []string
	for _, a := range alternatives {
		paths = append(paths, a.Paths...)
	}
	return &Validator{Paths: paths, Alternatives: alternatives}
}

func (v *Validator) Required() *Validator { v.MustExist = true; return v }

func (v *Validator) Default(value any) *Validator {
	v.DefaultValue, v.HasDefault = value, true
	return v
}

func (v *Validator) DefaultFrom(fn func() any) *Validator {
	v.DefaultFunc, v.HasDefault = fn, true
	return v
}

func (v *Validator) OfType(k Kind) *Validator { v.Type = k; return v }

func (v *Validator) In(values ...any) *Validator { v.IsIn = values; return v }

func (v *Validator) Normalized(fn func(any) any) *Validator { v.Normalize = fn; return v }

func (v *Validator) Cast(fn func(any) (any, error)) *Validator { v.CastFunc = fn; return v }

func (v *Validator) Check(fn func(any) error) *Validator { v.CheckFunc = fn; return v }

func (v *Validator) When(path string, equals any) *Validator {
	v.Condition = &Condition{Path: path, Equals: equals}
	return v
}

func (v *Validator) WithMessage(msg string) *Validator { v.Message = msg; return v }

func (v *Validator) defaultValue() any {
	if v.DefaultFunc != nil {
		return v.DefaultFunc()
	}
	return v.DefaultValue
}

// apply runs the validator against t, writing defaults, casts and
// normalized values back into the tree. It returns one failure per bad path.
func (v *Validator) apply(section string, t Tree) []Failure {
	if v.Condition != nil && !v.Condition.holds(t) {
		return nil
	}
	if len(v.Alternatives) > 0 {
		return v.applyAnyOf(section, t)
	}
	var failures []Failure
	for _, path := range v.Paths {
		if msg := v.applyPath(path, t); msg != "" {
			if v.Message != "" {
				msg = v.Message
			}
			failures = append(failures, Failure{Section: section, Path: path, Message: msg})
		}
	}
	return failures
}

func (v *Validator) applyAnyOf(section string, t Tree) []Failure {
	for _, alt := range v.Alternatives {
		scratch := t.Clone()
		if len(alt.apply(section, scratch)) == 0 {
			// Replay on the real tree so defaults and casts stick.
			alt.apply(section, t)
			return nil
		}
	}
	msg := v.Message
	if msg == "" {
		msg = fmt.Sprintf("at least one of %s must be valid", strings.Join(v.Paths, ", "))
	}
	failures := make([]Failure, 0, len(v.Paths))
	for _, p := range v.Paths {
		failures = append(failures, Failure{Section: section, Path: p, Message: msg})
	}
	return failures
}

func (v *Validator) applyPath(path string, t Tree) string {
	value, ok := t.Lookup(path)
	if !ok || value == nil {
		if v.HasDefault {
			value = v.defaultValue()
			t.Set(path, value)
			ok = true
		}
	}
	if !ok || value == nil {
		if v.MustExist {
			if v.Condition != nil {
				return fmt.Sprintf("is required when %s", v.Condition)
			}
			return "is required"
		}
		return ""
	}

	if v.CastFunc != nil {
		cast, err := v.CastFunc(value)
		if err != nil {
			return fmt.Sprintf("cannot be cast: %v", err)
		}
		value = cast
		t.Set(path, value)
	}

	if v.Type != KindAny && !isKind(value, v.Type) {
		return fmt.Sprintf("must be of type %s, got %T", v.Type, value)
	}

	if v.Normalize != nil {
		value = v.Normalize(value)
		t.Set(path, value)
	}

	if len(v.IsIn) > 0 {
		found := false
		for _, allowed := range v.IsIn {
			if valuesEqual(value, allowed) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("must be one of %v, got %v", v.IsIn, value)
		}
	}

	if v.CheckFunc != nil {
		if err := v.CheckFunc(value); err != nil {
			return err.Error()
		}
	}
	return ""
}

func isKind(v any, k Kind) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindInt:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case KindFloat:
		switch v.(type) {
		case float32, float64, int, int64, int32:
			return true
		}
		return false
	case KindList:
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case KindMap:
		_, ok := asMap(v)
		return ok
	}
	return true
}

// valuesEqual compares scalars loosely so that an int loaded from YAML
// equals an int64 literal in the catalog. Strings stay case-sensitive.
func valuesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if aStr || bStr {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Casts and normalizers shared by the catalog.

// CastString renders any scalar as a string, so rhel_version: 8 becomes "8".
func CastString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case map[string]any, []any:
		return nil, fmt.Errorf("%T is not a scalar", v)
	}
	return fmt.Sprint(v), nil
}

// CastBool accepts booleans and their common string spellings.
func CastBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "on":
			return true, nil
		case "no", "off", "":
			return false, nil
		}
		return strconv.ParseBool(strings.TrimSpace(val))
	case int:
		return val != 0, nil
	}
	return nil, fmt.Errorf("%v is not a boolean", v)
}

// CastInt accepts integers and numeric strings.
func CastInt(v any) (any, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case uint64:
		return int(val), nil
	case float64:
		if val != float64(int(val)) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return int(val), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(val))
	}
	return nil, fmt.Errorf("%v is not an integer", v)
}

// CastSemver parses a version such as "6.16" or "6.16.0".
func CastSemver(v any) (any, error) {
	s, err := CastString(v)
	if err != nil {
		return nil, err
	}
	ver, err := semver.NewVersion(s.(string))
	if err != nil {
		return nil, err
	}
	return ver, nil
}

// LowerNoSpaces normalizes region style names: "East US" -> "eastus".
func LowerNoSpaces(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// IsURL is a predicate for absolute http(s) URLs.
func IsURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", s)
	}
	return nil
}

// StartsWith returns a predicate checking a string prefix.
func StartsWith(prefix string) func(any) error {
	return func(v any) error {
		s, _ := v.(string)
		if !strings.HasPrefix(s, prefix) {
			return fmt.Errorf("%q must start with %q", s, prefix)
		}
		return nil
	}
}

// IsReleaseOrStream accepts "stream" or any semantic version.
func IsReleaseOrStream(v any) error {
	s := fmt.Sprint(v)
	if s == "stream" {
		return nil
	}
	if _, err := semver.NewVersion(s); err != nil {
		return fmt.Errorf("%q is neither \"stream\" nor a version", s)
	}
	return nil
}

// IsPortRange accepts "start-end" with start <= end.
func IsPortRange(v any) error {
	s := fmt.Sprint(v)
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return fmt.Errorf("%q is not a port range", s)
	}
	a, err1 := strconv.Atoi(strings.TrimSpace(lo))
	b, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil || a > b || a < 1 || b > 65535 {
		return fmt.Errorf("%q is not a port range", s)
	}
	return nil
}
