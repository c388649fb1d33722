package report

import (
	"time"

	"robottelo/internal/fixture"
)

// Outcome is the final state of one item.
type Outcome string

const (
	Passed     Outcome = "PASSED"
	Failed     Outcome = "FAILED"
	Skipped    Outcome = "SKIPPED"
	Error      Outcome = "ERROR"
	Deselected Outcome = "DESELECTED"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{Passed, Failed, Error, Skipped, Deselected}

// ItemResult is the result of one test item.
type ItemResult struct {
	ID       string        `json:"id"`
	Module   string        `json:"module"`
	Worker   string        `json:"worker,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Skip     *fixture.Skip `json:"skip,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Fixtures []string      `json:"fixtures,omitempty"`
	// TeardownErrors are reported next to the outcome; they never change it.
	TeardownErrors []string      `json:"teardown_errors,omitempty"`
	Logs           []string      `json:"logs,omitempty"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
}

// RunInfo describes a run before it starts.
type RunInfo struct {
	Workers  int    `json:"workers"`
	Items    int    `json:"items"`
	Subset   string `json:"subset,omitempty"`
	Markers  string `json:"markers,omitempty"`
	Backend  string `json:"backend,omitempty"`
	FailFast bool   `json:"fail_fast,omitempty"`
}

// SuiteResult is the overall result of a run.
type SuiteResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Info      RunInfo       `json:"info"`

	Total      int `json:"total"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
	Deselected int `json:"deselected"`

	Items []ItemResult `json:"items"`
	// TeardownErrors holds teardown failures of module and session scopes,
	// which belong to no single item.
	TeardownErrors []string `json:"teardown_errors,omitempty"`
	Interrupted    bool     `json:"interrupted,omitempty"`
}

// Add records an item result and updates the counters.
func (s *SuiteResult) Add(r ItemResult) {
	s.Items = append(s.Items, r)
	s.Total++
	switch r.Outcome {
	case Passed:
		s.Passed++
	case Failed:
		s.Failed++
	case Skipped:
		s.Skipped++
	case Error:
		s.Errors++
	case Deselected:
		s.Deselected++
	}
}

// Count returns how many items ended with the outcome.
func (s *SuiteResult) Count(o Outcome) int {
	switch o {
	case Passed:
		return s.Passed
	case Failed:
		return s.Failed
	case Skipped:
		return s.Skipped
	case Error:
		return s.Errors
	case Deselected:
		return s.Deselected
	}
	return 0
}

// Success reports a run without failures, errors or interruption.
func (s *SuiteResult) Success() bool {
	return s.Failed == 0 && s.Errors == 0 && !s.Interrupted
}

// Result returns the item result for id.
func (s *SuiteResult) Result(id string) (ItemResult, bool) {
	for _, r := range s.Items {
		if r.ID == id {
			return r, true
		}
	}
	return ItemResult{}, false
}
