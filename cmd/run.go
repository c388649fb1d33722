package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"robottelo/internal/metrics"
	"robottelo/internal/plan"
	"robottelo/internal/report"
	"robottelo/internal/runner"
	"robottelo/internal/upgrade"
	"robottelo/pkg/logging"
)

type runOptions struct {
	plans       string
	subset      string
	whitelist   []string
	markers     string
	tiers       []int
	parallel    int
	parties     int
	failFast    bool
	timeout     time.Duration
	itemTimeout time.Duration
	reportPath  string
	metricsFile string
	backend     string
	upgradeData string
	verbose     bool
	quiet       bool
}

// newRunCmd creates the command that collects and runs plan tests.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect and run test plans against the target server",
		Long: `The run command collects the tests of the given plans, applies the
selection policy and runs them on a pool of workers.

Selection happens in this order:
1. Tiers (--tier)
2. Marker expression (--markers "tier1 and not destructive")
3. Subset (--subset sanity), which keeps only items carrying the subset
   marker and puts the single first_in_subset item first
4. Capability filter, which skips items whose settings sections are not
   configured

Pre-upgrade items run before all others and post-upgrade items after them.
Destructive and run_in_one_thread items run with no other item in flight.

Example usage:
  robottelo run --plans plans/                        # Run every plan
  robottelo run --plans plans/ --subset sanity        # Run the sanity subset
  robottelo run --plans plans/ --markers tier1 -n 4   # Tier 1 on four workers
  robottelo run --plans plans/ --backend memory       # Against an in-memory server
  robottelo run --plans plans/ --report reports/      # Save a JSON report

Exit codes: 0 all passed, 1 failures or errors, 2 configuration or
collection error, 130 interrupted.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.parallel < 1 || opts.parallel > 64 {
				return fmt.Errorf("parallel workers must be between 1 and 64, got %d", opts.parallel)
			}
			if opts.backend != backendMemory && opts.backend != backendREST {
				return fmt.Errorf("invalid backend '%s', must be '%s' or '%s'", opts.backend, backendMemory, backendREST)
			}
			if opts.parties < 0 {
				return fmt.Errorf("--rendezvous-parties must not be negative, got %d", opts.parties)
			}
			if opts.verbose && opts.quiet {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.plans, "plans", "", "Plan file or directory of plan files")
	cmd.Flags().StringVar(&opts.subset, "subset", "", "Run only items carrying this subset marker")
	cmd.Flags().StringArrayVar(&opts.whitelist, "whitelist", nil, "Restrict a parameter to values within the subset, e.g. --whitelist os=rhel8,rhel9")
	cmd.Flags().StringVarP(&opts.markers, "markers", "m", "", "Marker expression, e.g. \"tier1 and not destructive\"")
	cmd.Flags().IntSliceVar(&opts.tiers, "tier", nil, "Run only these tiers (repeatable)")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "n", 1, "Number of parallel workers (1-64)")
	cmd.Flags().IntVar(&opts.parties, "rendezvous-parties", 0, "Workers entering shared fixtures such as upgrade_satellite (0 means --parallel)")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop scheduling items after the first failure")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall run timeout (0 means none)")
	cmd.Flags().DurationVar(&opts.itemTimeout, "item-timeout", 0, "Timeout of each test body (0 means none)")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Path to save a JSON report (file ending in .json or directory)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	cmd.Flags().StringVar(&opts.backend, "backend", backendREST, "Server backend (memory, rest)")
	cmd.Flags().StringVar(&opts.upgradeData, "upgrade-data", "", "Pre-upgrade data file (default upgrade.data_file)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show deselected items and test logs")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Print only failures and the final line")
	_ = cmd.RegisterFlagCompletionFunc("backend", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{backendMemory, backendREST}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// rendezvousParties defaults to one party per worker of this process. With
// shared_function storage the workers of every process must be counted.
func (o *runOptions) rendezvousParties() int {
	if o.parties > 0 {
		return o.parties
	}
	return o.parallel
}

func runTests(cmd *cobra.Command, opts *runOptions) error {
	s, _, err := loadSettings()
	if err != nil {
		return err
	}
	whitelist, err := parseWhitelist(opts.whitelist)
	if err != nil {
		return err
	}
	files, err := loadPlans(opts.plans)
	if err != nil {
		return err
	}
	cases := plan.Cases(files)
	if len(cases) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️  No tests found")
		if opts.plans == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "💡 Pass a plan file or directory with --plans")
		}
		return nil
	}

	h, err := buildHarness(s, registryOptions{backend: opts.backend, parties: opts.rendezvousParties(), files: files})
	if err != nil {
		return err
	}
	defer func() {
		if err := h.close(); err != nil {
			logging.Warn("Runner", "Failed to close shared storage: %v", err)
		}
	}()

	dataFile := opts.upgradeData
	if dataFile == "" {
		dataFile = s.Upgrade().DataFile
	}
	store, err := upgrade.Open(dataFile)
	if err != nil {
		return err
	}

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}
	var console report.Reporter
	if opts.quiet {
		console = report.NewQuietReporter(cmd.OutOrStdout())
	} else {
		console = report.NewConsoleReporter(cmd.OutOrStdout(), opts.verbose, opts.reportPath)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nReceived interrupt signal, tearing down fixtures...")
			cancel()
		case <-ctx.Done():
		}
	}()

	suite, err := runner.Run(ctx, runner.Config{
		Parallel:    opts.parallel,
		FailFast:    opts.failFast,
		Timeout:     opts.timeout,
		ItemTimeout: opts.itemTimeout,
		Subset:      opts.subset,
		Whitelist:   whitelist,
		Markers:     opts.markers,
		Tiers:       opts.tiers,
		Registry:    h.registry,
		Settings:    s,
		Upgrade:     store,
		Reporter:    report.Multi(console, m.Reporter()),
		Hooks:       m.Hooks(),
		Presence:    h.rendezvous,
		Backend:     opts.backend,
	}, cases)
	if err != nil {
		return err
	}

	if opts.metricsFile != "" {
		if err := m.WriteTextfile(opts.metricsFile); err != nil {
			logging.Error("Runner", err, "Failed to write metrics to %s", opts.metricsFile)
		}
	}
	if opts.quiet && opts.reportPath != "" {
		if _, err := report.SaveJSON(opts.reportPath, *suite); err != nil {
			logging.Error("Runner", err, "Failed to save report")
		}
	}

	switch {
	case suite.Interrupted:
		return &ExitError{Code: ExitCodeInterrupted}
	case !suite.Success():
		return &ExitError{Code: ExitCodeFailures}
	}
	return nil
}

// parseWhitelist turns ["os=rhel8,rhel9"] into {"os": ["rhel8", "rhel9"]}.
func parseWhitelist(values []string) (map[string][]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string][]any, len(values))
	for _, v := range values {
		name, allowed, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || allowed == "" {
			return nil, fmt.Errorf("invalid whitelist %q, expected name=value[,value...]", v)
		}
		for _, a := range strings.Split(allowed, ",") {
			out[name] = append(out[name], strings.TrimSpace(a))
		}
	}
	return out, nil
}
