package selection

import "fmt"

// ConfigurationException aborts collection: a curated subset without its
// first item, an upgrade dependency cycle or a malformed marker expression.
type ConfigurationException struct {
	Reason string
	Err    error
}

func (e *ConfigurationException) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collection failed: %s: %v", e.Reason, e.Err)
	}
	return "collection failed: " + e.Reason
}

func (e *ConfigurationException) Unwrap() error { return e.Err }
