package fixture

import (
	"fmt"
	"strings"
)

// Scope is the lifetime of a cached artifact. Wider scopes compare greater.
type Scope int

const (
	Function Scope = iota
	Module
	Session
)

func (s Scope) String() string {
	switch s {
	case Function:
		return "function"
	case Module:
		return "module"
	case Session:
		return "session"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope parses "function", "module" or "session". The empty string is
// function scope.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "function":
		return Function, nil
	case "module":
		return Module, nil
	case "session":
		return Session, nil
	}
	return Function, fmt.Errorf("unknown fixture scope %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	v, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
