package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"robottelo/internal/fixture"
	"robottelo/internal/rendezvous"
	"robottelo/internal/report"
	"robottelo/internal/selection"
	"robottelo/internal/upgrade"
	"robottelo/pkg/logging"
)

var (
	// ErrFailFast stops a run after the first failure when FailFast is set.
	ErrFailFast = errors.New("stopped after first failure")
	// ErrRunTimeout is the cause of a run that exceeded Config.Timeout.
	ErrRunTimeout = errors.New("run timed out")
)

// exclusive keeps destructive and run_in_one_thread items away from every
// other item of the process. Other items hold it shared.
var exclusive sync.RWMutex

type job struct {
	idx int
	c   Case
}

type worker struct {
	name string
	sess *fixture.WorkerSession
}

type run struct {
	cfg      Config
	store    *upgrade.Store
	reporter report.Reporter
	cancel   context.CancelCauseFunc

	mu      sync.Mutex
	results []*report.ItemResult
	suite   *report.SuiteResult
}

// Run collects, selects and executes cases. The returned error is a
// collection failure (fixture graph, subset, marker expression or
// upgrade ordering); test failures are reported in the suite. An
// interrupted or timed out run returns the partial suite with Interrupted
// set after every open scope was torn down.
func Run(ctx context.Context, cfg Config, cases []Case) (*report.SuiteResult, error) {
	if cfg.Registry == nil {
		cfg.Registry = fixture.NewRegistry("session")
	}
	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}

	store := cfg.Upgrade
	if store == nil {
		var err error
		if store, err = upgrade.Open(""); err != nil {
			return nil, err
		}
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = report.NewQuietReporter(io.Discard)
	}

	col, err := collect(cfg, cases)
	if err != nil {
		return nil, err
	}

	r := &run{
		cfg:      cfg,
		store:    store,
		reporter: reporter,
		results:  make([]*report.ItemResult, col.size()),
		suite: &report.SuiteResult{
			StartTime: time.Now(),
			Info: report.RunInfo{
				Workers:  cfg.workers(),
				Items:    len(col.runnable),
				Subset:   cfg.Subset,
				Markers:  cfg.Markers,
				Backend:  cfg.Backend,
				FailFast: cfg.FailFast,
			},
		},
	}
	reporter.ReportStart(r.suite.Info)
	for _, d := range col.deselected {
		r.record(d.idx, report.ItemResult{ID: d.item.ID, Module: d.item.Module, Outcome: report.Deselected, Reason: d.reason})
	}
	for _, s := range col.skipped {
		r.record(s.idx, report.ItemResult{ID: s.item.ID, Module: s.item.Module, Outcome: report.Skipped, Skip: s.skip})
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if cfg.Timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, cfg.Timeout, ErrRunTimeout)
		defer stop()
	}
	r.cancel = cancel

	workers := make([]*worker, cfg.workers())
	for i := range workers {
		name := fmt.Sprintf("gw%d", i)
		opts := []fixture.Option{fixture.WithWorker(name), fixture.WithHooks(cfg.Hooks)}
		if cfg.Settings != nil {
			opts = append(opts, fixture.WithSettings(cfg.Settings))
		}
		workers[i] = &worker{name: name, sess: fixture.NewWorkerSession(cfg.Registry, opts...)}
	}

	for _, phase := range splitPhases(col.runnable) {
		if runCtx.Err() != nil {
			break
		}
		r.runPhase(runCtx, workers, phase)
	}

	cause := context.Cause(runCtx)
	interrupted := cause != nil && !errors.Is(cause, ErrFailFast)
	if interrupted {
		logging.Warn("Runner", "Run interrupted: %v", cause)
	}

	// Teardown of every still-open scope, even after an interrupt. Sessions
	// close together so shared fixtures meet their peers in Ready.
	r.away(workers...)
	closeCtx := context.WithoutCancel(ctx)
	var closers errgroup.Group
	for _, w := range workers {
		closers.Go(func() error {
			if interrupted {
				w.sess.Interrupt(cause)
			}
			r.suiteTeardown(w.sess.Close(rendezvous.WithMember(closeCtx, w.name)))
			return nil
		})
	}
	_ = closers.Wait()

	for _, j := range col.runnable {
		if r.results[j.idx] == nil {
			r.record(j.idx, report.ItemResult{
				ID: j.c.Item.ID, Module: j.c.Item.Module, Outcome: report.Skipped,
				Skip: &fixture.Skip{Reason: fmt.Sprintf("not run: %v", cause)},
			})
		}
	}

	suite := r.finish(interrupted)
	reporter.ReportSuiteResult(*suite)
	return suite, nil
}

type phaseItems struct {
	phase selection.Phase
	jobs  []job
}

// splitPhases cuts the ordered items into pre, unphased and post runs.
func splitPhases(jobs []job) []phaseItems {
	var out []phaseItems
	for _, j := range jobs {
		p := selection.PhaseOf(j.c.Item)
		if len(out) == 0 || out[len(out)-1].phase != p {
			out = append(out, phaseItems{phase: p})
		}
		out[len(out)-1].jobs = append(out[len(out)-1].jobs, j)
	}
	return out
}

// runPhase runs one phase and returns when all its items finished. The
// first_in_subset item, if any, runs alone before the rest. A worker with
// nothing left to run in the phase is marked away.
func (r *run) runPhase(ctx context.Context, workers []*worker, p phaseItems) {
	logging.Debug("Runner", "Running %d %s items", len(p.jobs), p.phase)
	lead, rest := lo.FilterReject(p.jobs, func(j job, _ int) bool {
		return j.c.Item.HasMarker(selection.MarkFirstInSubset)
	})
	if len(lead) > 0 {
		r.rejoin(workers[0])
		r.away(workers[1:]...)
		for _, group := range groupByModule(lead) {
			r.runGroup(ctx, workers[0], group)
		}
	}

	n := len(workers)
	if p.phase == selection.PhasePost && postChained(rest) {
		// depends_on between post items is only honored on one worker.
		n = 1
	}
	groups := groupByModule(rest)
	queue := make(chan []job, len(groups))
	for _, g := range groups {
		queue <- g
	}
	close(queue)

	active := workers[:min(n, max(len(groups), 1))]
	r.rejoin(active...)
	r.away(workers[len(active):]...)

	var g errgroup.Group
	for _, w := range active {
		g.Go(func() error {
			for group := range queue {
				r.runGroup(ctx, w, group)
			}
			r.away(w)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) away(workers ...*worker) {
	if r.cfg.Presence == nil {
		return
	}
	for _, w := range workers {
		r.cfg.Presence.Depart(w.name)
	}
}

func (r *run) rejoin(workers ...*worker) {
	if r.cfg.Presence == nil {
		return
	}
	for _, w := range workers {
		r.cfg.Presence.Rejoin(w.name)
	}
}

func postChained(jobs []job) bool {
	names := lo.SliceToMap(jobs, func(j job) (string, bool) { return j.c.Item.TestName(), true })
	return lo.ContainsBy(jobs, func(j job) bool {
		return lo.ContainsBy(j.c.Item.DependsOn(), func(dep string) bool { return names[dep] })
	})
}

// groupByModule keeps items of one module together, in first-seen order.
func groupByModule(jobs []job) [][]job {
	var order []string
	byModule := make(map[string][]job)
	for _, j := range jobs {
		m := j.c.Item.Module
		if _, ok := byModule[m]; !ok {
			order = append(order, m)
		}
		byModule[m] = append(byModule[m], j)
	}
	return lo.Map(order, func(m string, _ int) []job { return byModule[m] })
}

func (r *run) runGroup(ctx context.Context, w *worker, group []job) {
	ctx = rendezvous.WithMember(ctx, w.name)
	for _, j := range group {
		if ctx.Err() != nil {
			break
		}
		r.runItem(ctx, w, j)
	}
	r.suiteTeardown(w.sess.EndModule(ctx))
}

func (r *run) runItem(ctx context.Context, w *worker, j job) {
	item := j.c.Item
	res := report.ItemResult{ID: item.ID, Module: item.Module, Worker: w.name, StartTime: time.Now()}

	if skip := selection.UpgradeGate(item, r.store); skip != nil {
		res.Outcome = report.Skipped
		res.Skip = skip
		r.record(j.idx, res)
		return
	}

	if ctx.Err() != nil {
		return
	}
	// Shared fixtures wait for peers, so they are set up before taking a
	// lock the peers may be queued on.
	res.TeardownErrors = errStrings(w.sess.Prepare(ctx, item.FixtureItem()))

	if item.Serial() {
		exclusive.Lock()
		defer exclusive.Unlock()
	} else {
		exclusive.RLock()
		defer exclusive.RUnlock()
	}
	if ctx.Err() != nil {
		return
	}

	r.execute(ctx, w, j.c, &res)
	res.Duration = time.Since(res.StartTime)
	r.record(j.idx, res)
}

func (r *run) execute(ctx context.Context, w *worker, c Case, res *report.ItemResult) {
	resolution, err := w.sess.Resolve(ctx, c.Item.FixtureItem())
	if err != nil {
		res.Outcome = report.Error
		res.Error = err.Error()
		var setupErr *fixture.FixtureSetupError
		if errors.As(err, &setupErr) {
			res.TeardownErrors = append(res.TeardownErrors, errStrings(setupErr.TeardownErrors)...)
		}
		return
	}
	res.Fixtures = resolution.Order
	res.TeardownErrors = append(res.TeardownErrors, errStrings(resolution.TeardownErrors)...)
	if resolution.Skip != nil {
		res.Outcome = report.Skipped
		res.Skip = resolution.Skip
		return
	}

	tctx := ctx
	if r.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.cfg.ItemTimeout)
		defer cancel()
	}
	t := &T{ctx: tctx, item: c.Item, res: resolution, settings: r.cfg.Settings, store: r.store, worker: w.name}
	testErr := call(c.Func, t)

	res.TeardownErrors = append(res.TeardownErrors, errStrings(resolution.Finish(ctx, testErr))...)
	res.Logs = t.lines()

	var skipErr *SkipError
	switch {
	case testErr == nil:
		res.Outcome = report.Passed
	case errors.As(testErr, &skipErr):
		res.Outcome = report.Skipped
		res.Skip = skipErr.Skip
	default:
		res.Outcome = report.Failed
		res.Error = testErr.Error()
	}
}

func call(fn TestFunc, t *T) (err error) {
	if fn == nil {
		return fmt.Errorf("%s has no test body", t.item.ID)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(t)
}

func (r *run) record(idx int, res report.ItemResult) {
	r.mu.Lock()
	r.results[idx] = &res
	r.mu.Unlock()

	switch res.Outcome {
	case report.Failed, report.Error:
		logging.Warn("Runner", "%s %s: %s", res.Outcome, res.ID, res.Error)
		if r.cfg.FailFast && r.cancel != nil {
			r.cancel(ErrFailFast)
		}
	default:
		logging.Debug("Runner", "%s %s", res.Outcome, res.ID)
	}
	r.reporter.ReportItemResult(res)
}

func (r *run) suiteTeardown(errs []error) {
	if len(errs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suite.TeardownErrors = append(r.suite.TeardownErrors, errStrings(errs)...)
}

func (r *run) finish(interrupted bool) *report.SuiteResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.suite
	for _, res := range r.results {
		if res != nil {
			s.Add(*res)
		}
	}
	s.Interrupted = interrupted
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

func errStrings(errs []error) []string {
	return lo.Map(errs, func(err error, _ int) string { return err.Error() })
}
