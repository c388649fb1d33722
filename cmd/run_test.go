package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const passingPlan = `
fixtures:
  - name: cli_org
    scope: module
    kind: organization
    attrs: {name: 'cli-{{ randAlpha 6 | lower }}'}
tests:
  - name: test_org_exists
    markers: [tier1]
    fixtures: [cli_org]
    steps:
      - id: org
        action: read
        kind: organization
        args: {id: '{{ .cli_org.id }}'}
        expected:
          fields: {name: '{{ .cli_org.name }}'}
  - name: test_tier2_only
    markers: [tier2]
    steps:
      - {id: host, action: exec, args: {command: hostname}}
`

const failingPlan = `
tests:
  - name: test_missing_org
    steps:
      - {id: org, action: read, kind: organization, args: {id: 999}}
`

func TestRunCommand_MemoryBackend(t *testing.T) {
	dir := t.TempDir()
	plans := writeFile(t, filepath.Join(dir, "plans", "test_org.yaml"), passingPlan)
	conf := writeFile(t, filepath.Join(dir, "settings.yaml"), "server:\n  hostname: sat.example\nrobottelo:\n  cleanup: true\n")
	reportPath := filepath.Join(dir, "report.json")
	metricsPath := filepath.Join(dir, "robottelo.prom")

	out, err := execute(t, "run",
		"--settings", conf,
		"--plans", filepath.Dir(plans),
		"--backend", "memory",
		"--markers", "tier1",
		"--parallel", "2",
		"--report", reportPath,
		"--metrics-file", metricsPath,
		"--verbose",
	)
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "test_org_exists") {
		t.Errorf("Expected output to list test_org_exists, got:\n%s", out)
	}
	if !strings.Contains(out, "All tests passed") {
		t.Errorf("Expected success line, got:\n%s", out)
	}

	raw, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("Expected a JSON report: %v", err)
	}
	if !strings.Contains(string(raw), `"DESELECTED"`) {
		t.Errorf("Expected test_tier2_only to be deselected in the report")
	}

	prom, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("Expected a metrics file: %v", err)
	}
	if !strings.Contains(string(prom), `robottelo_items_total{outcome="PASSED"} 1`) {
		t.Errorf("Unexpected metrics:\n%s", prom)
	}
}

func TestRunCommand_FailuresExitOne(t *testing.T) {
	dir := t.TempDir()
	plans := writeFile(t, filepath.Join(dir, "test_missing.yaml"), failingPlan)
	conf := writeFile(t, filepath.Join(dir, "settings.yaml"), "server:\n  hostname: sat.example\n")

	_, err := execute(t, "run", "--settings", conf, "--plans", plans, "--backend", "memory",
		"--markers", "", "--report", "", "--metrics-file", "", "--verbose=false")
	var exit *ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("Expected an ExitError, got %v", err)
	}
	if exit.Code != ExitCodeFailures {
		t.Errorf("Expected exit code %d, got %d", ExitCodeFailures, exit.Code)
	}
}

func TestRunCommand_InvalidSettingsExitTwo(t *testing.T) {
	dir := t.TempDir()
	plans := writeFile(t, filepath.Join(dir, "test_missing.yaml"), failingPlan)
	conf := writeFile(t, filepath.Join(dir, "settings.yaml"), "server:\n  hostname: sat.example\n  scheme: ftp\n")

	_, err := execute(t, "run", "--settings", conf, "--plans", plans, "--backend", "memory")
	if got := getExitCode(err); got != ExitCodeConfiguration {
		t.Errorf("Expected exit code %d, got %d (%v)", ExitCodeConfiguration, got, err)
	}
}

func TestRunCommand_InvalidBackend(t *testing.T) {
	_, err := execute(t, "run", "--backend", "carrier-pigeon")
	if err == nil || !strings.Contains(err.Error(), "invalid backend") {
		t.Errorf("Expected invalid backend error, got %v", err)
	}
}

func TestRendezvousPartiesDefaultsToWorkers(t *testing.T) {
	tests := []struct {
		parallel, parties, want int
	}{
		{parallel: 1, parties: 0, want: 1},
		{parallel: 4, parties: 0, want: 4},
		{parallel: 4, parties: 8, want: 8},
	}
	for _, tt := range tests {
		opts := &runOptions{parallel: tt.parallel, parties: tt.parties}
		if got := opts.rendezvousParties(); got != tt.want {
			t.Errorf("rendezvousParties() with parallel=%d parties=%d = %d, want %d", tt.parallel, tt.parties, got, tt.want)
		}
	}
}

func TestParseWhitelist(t *testing.T) {
	got, err := parseWhitelist([]string{"os=rhel8, rhel9", "arch=x86_64"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got["os"]) != 2 || got["os"][1] != "rhel9" || got["arch"][0] != "x86_64" {
		t.Errorf("Unexpected whitelist %v", got)
	}

	if _, err := parseWhitelist([]string{"os"}); err == nil {
		t.Error("Expected an error for a value without '='")
	}
}
