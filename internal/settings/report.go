package settings

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrAlreadyInitialized is returned by Init when the process-wide settings
// have already been installed.
var ErrAlreadyInitialized = errors.New("settings already initialized")

// Failure is a single validator failure.
type Failure struct {
	Section string `json:"section"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Message)
}

// SectionStatus is the per-section outcome of Configure.
type SectionStatus struct {
	Present    bool `json:"present"`
	Configured bool `json:"configured"`
	Failed     int  `json:"failed"`
}

// Report enumerates the outcome of a Configure run.
type Report struct {
	Failures []Failure                 `json:"failures,omitempty"`
	Sections map[string]*SectionStatus `json:"sections"`
	// Downgraded is set when failures were tolerated because
	// robottelo.settings.ignore_validation_errors is true.
	Downgraded bool `json:"downgraded"`
}

func newReport() *Report {
	return &Report{Sections: make(map[string]*SectionStatus)}
}

// HasFailures returns true if any validator failed.
func (r *Report) HasFailures() bool {
	return r != nil && len(r.Failures) > 0
}

// Paths returns the dotted paths of all failures in report order.
func (r *Report) Paths() []string {
	if r == nil {
		return nil
	}
	paths := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		paths = append(paths, f.Path)
	}
	return paths
}

// FailuresFor returns the failures recorded for a section.
func (r *Report) FailuresFor(section string) []Failure {
	if r == nil {
		return nil
	}
	var out []Failure
	for _, f := range r.Failures {
		if f.Section == section {
			out = append(out, f)
		}
	}
	return out
}

// Configured reports whether a section was present and passed.
func (r *Report) Configured(section string) bool {
	if r == nil {
		return false
	}
	st, ok := r.Sections[section]
	return ok && st.Configured
}

// ConfiguredSections returns the names of configured sections, sorted.
func (r *Report) ConfiguredSections() []string {
	var out []string
	for name, st := range r.Sections {
		if st.Configured {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Summary renders the failures one per line.
func (r *Report) Summary() string {
	if !r.HasFailures() {
		return "No settings validation failures"
	}
	parts := []string{fmt.Sprintf("Settings validation failures (%d):", len(r.Failures))}
	for _, f := range r.Failures {
		parts = append(parts, fmt.Sprintf("  - [%s] %s", f.Section, f))
	}
	return strings.Join(parts, "\n")
}

// ConfigurationError is returned by Configure when validation failed and
// failures were not downgraded.
type ConfigurationError struct {
	Report *Report
}

func (e *ConfigurationError) Error() string {
	if e.Report == nil || len(e.Report.Failures) == 0 {
		return "settings validation failed"
	}
	if len(e.Report.Failures) == 1 {
		return fmt.Sprintf("settings validation failed: %s", e.Report.Failures[0])
	}
	return fmt.Sprintf("settings validation failed: %s (and %d more)",
		e.Report.Failures[0], len(e.Report.Failures)-1)
}
