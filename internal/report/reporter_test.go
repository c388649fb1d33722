package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robottelo/internal/fixture"
)

func init() {
	text.DisableColors()
}

func sampleSuite() SuiteResult {
	s := SuiteResult{StartTime: time.Now(), Duration: 1500 * time.Millisecond}
	s.Add(ItemResult{ID: "test_a", Module: "m", Outcome: Passed})
	s.Add(ItemResult{ID: "test_b", Module: "m", Outcome: Failed, Error: "expected 1, got 2\nmore"})
	s.Add(ItemResult{ID: "test_c", Module: "m", Outcome: Skipped, Skip: &fixture.Skip{Reason: "ldap is not configured", Section: "ldap"}})
	s.Add(ItemResult{ID: "test_d", Module: "m", Outcome: Deselected, Reason: "not in subset sanity"})
	return s
}

func TestSuiteResult_Counters(t *testing.T) {
	s := sampleSuite()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Count(Passed))
	assert.Equal(t, 1, s.Count(Failed))
	assert.Equal(t, 1, s.Count(Skipped))
	assert.Equal(t, 1, s.Count(Deselected))
	assert.Equal(t, 0, s.Count(Error))
	assert.False(t, s.Success())

	r, ok := s.Result("test_c")
	require.True(t, ok)
	assert.Equal(t, "ldap", r.Skip.Section)

	_, ok = s.Result("nope")
	assert.False(t, ok)

	ok2 := SuiteResult{}
	ok2.Add(ItemResult{ID: "x", Outcome: Passed})
	assert.True(t, ok2.Success())
	ok2.Interrupted = true
	assert.False(t, ok2.Success())
}

func TestConsoleReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, false, "")
	r.ReportStart(RunInfo{Items: 4, Workers: 2})
	suite := sampleSuite()
	for _, it := range suite.Items {
		r.ReportItemResult(it)
	}
	r.ReportSuiteResult(suite)

	out := buf.String()
	assert.Contains(t, out, "4 items, 2 workers")
	assert.Contains(t, out, "PASSED test_a")
	assert.Contains(t, out, "FAILED test_b")
	assert.Contains(t, out, "ldap is not configured")
	assert.NotContains(t, out, "DESELECTED test_d", "deselected items are only shown when verbose")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "Some tests failed")
}

func TestConsoleReporter_TeardownErrors(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf, true, "")
	r.ReportItemResult(ItemResult{ID: "test_a", Outcome: Passed, TeardownErrors: []string{"module_org: boom"}, Logs: []string{"created org"}})
	assert.Contains(t, buf.String(), "PASSED test_a")
	assert.Contains(t, buf.String(), "teardown: module_org: boom")
	assert.Contains(t, buf.String(), "| created org")
}

func TestWriteItems(t *testing.T) {
	var buf bytes.Buffer
	WriteItems(&buf, sampleSuite().Items)
	out := buf.String()
	assert.Contains(t, out, "test_b")
	assert.Contains(t, out, "expected 1, got 2")
	assert.NotContains(t, out, "more")
	assert.Contains(t, out, "not in subset sanity")
}

func TestSaveJSON(t *testing.T) {
	t.Run("file path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out", "report.json")
		got, err := SaveJSON(path, sampleSuite())
		require.NoError(t, err)
		assert.Equal(t, path, got)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var back SuiteResult
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, 4, back.Total)
		assert.Equal(t, Failed, back.Items[1].Outcome)
	})

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		got, err := SaveJSON(dir, sampleSuite())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(filepath.Base(got), "robottelo-report-"))
		assert.FileExists(t, got)
	})
}

func TestQuietAndJSONReporters(t *testing.T) {
	var quiet, js bytes.Buffer
	r := Multi(NewQuietReporter(&quiet), NewJSONReporter(&js))
	suite := sampleSuite()
	r.ReportStart(RunInfo{})
	for _, it := range suite.Items {
		r.ReportItemResult(it)
	}
	r.ReportSuiteResult(suite)

	assert.Contains(t, quiet.String(), "test_b: expected 1, got 2")
	assert.NotContains(t, quiet.String(), "test_a")
	assert.Contains(t, quiet.String(), "1 passed, 1 failed, 0 errors, 1 skipped, 1 deselected")

	var back SuiteResult
	require.NoError(t, json.Unmarshal(js.Bytes(), &back))
	assert.Len(t, back.Items, 4)
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	c.ReportStart(RunInfo{Items: 1})
	c.ReportItemResult(ItemResult{ID: "x"})
	c.ReportSuiteResult(SuiteResult{Total: 1})
	assert.Equal(t, 1, c.Info.Items)
	assert.Len(t, c.Items, 1)
	require.NotNil(t, c.Suite)
	assert.Equal(t, 1, c.Suite.Total)
}
