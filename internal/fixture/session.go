package fixture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"robottelo/internal/settings"
	"robottelo/pkg/logging"
)

// SetupEvent is reported to Hooks.OnSetup for every resolved fixture.
type SetupEvent struct {
	Fixture  string
	Scope    Scope
	ScopeID  string
	Item     string
	Param    any
	Cached   bool
	Duration time.Duration
	Err      error
	Skip     *Skip
}

// TeardownEvent is reported to Hooks.OnTeardown once per torn down instance.
type TeardownEvent struct {
	Fixture  string
	Scope    Scope
	ScopeID  string
	Duration time.Duration
	Err      error
}

// Hooks observe the engine. Both are optional.
type Hooks struct {
	OnSetup    func(SetupEvent)
	OnTeardown func(TeardownEvent)
}

// instance is one cached artifact.
type instance struct {
	desc       *Descriptor
	key        string
	param      any
	artifact   any
	err        error
	skip       *Skip
	finalizers []Finalizer
	torn       sync.Once
}

// frame is one live scope instance: this function call, this module, this
// session.
type frame struct {
	scope Scope
	id    string
	name  string
	cache map[string]*instance
	// stack holds instances in setup order; teardown pops it.
	stack []*instance
}

func newFrame(scope Scope, name string) *frame {
	return &frame{scope: scope, id: uuid.NewString(), name: name, cache: make(map[string]*instance)}
}

// WorkerSession resolves fixtures for one worker. It is not meant to be shared
// between workers; each worker owns its own session and therefore its own
// caches.
type WorkerSession struct {
	reg      *Registry
	settings *settings.Settings
	hooks    Hooks
	worker   string

	mu          sync.Mutex
	session     *frame
	module      *frame
	active      map[*frame]struct{}
	interrupted error
}

// Option configures a WorkerSession.
type Option func(*WorkerSession)

// WithSettings makes settings available to producers and skip predicates.
func WithSettings(s *settings.Settings) Option {
	return func(sess *WorkerSession) { sess.settings = s }
}

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(sess *WorkerSession) { sess.hooks = h }
}

// WithWorker names the worker owning the session, for logs.
func WithWorker(name string) Option {
	return func(sess *WorkerSession) { sess.worker = name }
}

// NewWorkerSession opens the session scope.
func NewWorkerSession(reg *Registry, opts ...Option) *WorkerSession {
	s := &WorkerSession{reg: reg, worker: "main", active: make(map[*frame]struct{})}
	for _, o := range opts {
		o(s)
	}
	s.session = newFrame(Session, s.worker)
	return s
}

// Interrupt records the cause of an interrupted run. Module and session
// finalizers receive it as their in-flight error.
func (s *WorkerSession) Interrupt(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = cause
}

// BeginModule opens a module scope, closing the current one first when the
// name differs. The returned errors come from that teardown.
func (s *WorkerSession) BeginModule(ctx context.Context, name string) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginModule(ctx, name)
}

func (s *WorkerSession) beginModule(ctx context.Context, name string) []error {
	if s.module != nil && s.module.name == name {
		return nil
	}
	var errs []error
	if s.module != nil {
		errs = s.teardownFrame(ctx, s.module, s.interrupted)
	}
	s.module = newFrame(Module, name)
	logging.Debug("Fixture", "[%s] Entering module %s", s.worker, name)
	return errs
}

// EndModule tears down the module scope.
func (s *WorkerSession) EndModule(ctx context.Context) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.module == nil {
		return nil
	}
	errs := s.teardownFrame(ctx, s.module, s.interrupted)
	s.module = nil
	return errs
}

// Close tears down every open scope: outstanding function scopes, then the
// module, then the session. Close is safe to call more than once.
func (s *WorkerSession) Close(ctx context.Context) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for f := range s.active {
		errs = append(errs, s.teardownFrame(ctx, f, s.interrupted)...)
		delete(s.active, f)
	}
	if s.module != nil {
		errs = append(errs, s.teardownFrame(ctx, s.module, s.interrupted)...)
		s.module = nil
	}
	errs = append(errs, s.teardownFrame(ctx, s.session, s.interrupted)...)
	return errs
}

// Resolution holds what one item received.
type Resolution struct {
	Item Item
	// Artifacts are the requested fixtures by name.
	Artifacts map[string]any
	// Order is the setup order of the whole closure.
	Order []string
	// Skip is set when a fixture in the closure asked to skip the item.
	Skip *Skip
	// TeardownErrors collects errors from scopes closed while resolving,
	// e.g. the previous module.
	TeardownErrors []error

	session *WorkerSession
	fn      *frame
	done    bool
}

// Artifact returns a requested fixture's artifact.
func (r *Resolution) Artifact(name string) (any, error) {
	v, ok := r.Artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%s did not request %q: %w", r.Item.ID, name, ErrUndeclaredDependency)
	}
	return v, nil
}

// Finish tears down the item's function scope. testErr is passed to
// finalizers as their in-flight error. Finish is idempotent.
func (r *Resolution) Finish(ctx context.Context, testErr error) []error {
	if r == nil || r.done || r.fn == nil {
		return nil
	}
	r.done = true
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	delete(r.session.active, r.fn)
	return r.session.teardownFrame(ctx, r.fn, testErr)
}

func (s *WorkerSession) frameFor(scope Scope, fn *frame) *frame {
	switch scope {
	case Session:
		return s.session
	case Module:
		return s.module
	default:
		return fn
	}
}

// Resolve sets up the closure of item.Fixtures. A producer failure returns a
// *FixtureSetupError after the item's function scope was unwound; a skip is
// reported in Resolution.Skip with the function scope already unwound.
func (s *WorkerSession) Resolve(ctx context.Context, item Item) (*Resolution, error) {
	plan, err := s.reg.Plan(item.Fixtures...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := &Resolution{Item: item, Artifacts: make(map[string]any), session: s}
	res.TeardownErrors = s.beginModule(ctx, item.Module)

	fn := newFrame(Function, item.ID)
	s.active[fn] = struct{}{}
	res.fn = fn

	resolved := make(map[string]*instance, len(plan))
	for _, d := range plan {
		res.Order = append(res.Order, d.Name)
		inst, cached, serr := s.instantiate(ctx, d, item, fn, resolved)
		if serr != nil {
			teardownErrs := s.unwind(ctx, res, fn, serr)
			return nil, &FixtureSetupError{Fixture: d.Name, Item: item.ID, Err: serr, Cached: cached, TeardownErrors: teardownErrs}
		}
		if inst.skip != nil {
			res.Skip = inst.skip
			res.TeardownErrors = append(res.TeardownErrors, s.unwind(ctx, res, fn, nil)...)
			return res, nil
		}
		resolved[d.Name] = inst
	}

	for _, name := range item.Fixtures {
		res.Artifacts[name] = resolved[name].artifact
	}
	return res, nil
}

// Prepare sets up the shared fixtures in item's closure, with their own
// requirements, ahead of Resolve. Callers use it to meet peers at a
// rendezvous before taking a lock those peers also need. Outcomes land in
// the session cache, so the following Resolve sees the same result.
func (s *WorkerSession) Prepare(ctx context.Context, item Item) []error {
	plan, err := s.reg.Plan(item.Fixtures...)
	if err != nil {
		// Resolve reports it.
		return nil
	}
	var shared []string
	for _, d := range plan {
		if d.shared {
			shared = append(shared, d.Name)
		}
	}
	if len(shared) == 0 {
		return nil
	}
	sub := item
	sub.Fixtures = shared
	res, err := s.Resolve(ctx, sub)
	if err != nil {
		var setupErr *FixtureSetupError
		if errors.As(err, &setupErr) {
			return setupErr.TeardownErrors
		}
		return nil
	}
	return append(res.TeardownErrors, res.Finish(ctx, nil)...)
}

func (s *WorkerSession) unwind(ctx context.Context, res *Resolution, fn *frame, cause error) []error {
	delete(s.active, fn)
	res.done = true
	return s.teardownFrame(ctx, fn, cause)
}

// paramFor picks the value a fixture instance is built with.
func paramFor(d *Descriptor, item Item) (any, bool, error) {
	for _, key := range d.IndirectKeys {
		if v, ok := item.Params[key]; ok {
			return v, true, nil
		}
	}
	if len(d.Params) > 0 {
		v, ok := item.Params[d.Name]
		if !ok {
			return nil, false, fmt.Errorf("fixture %q is parametrized but item %s carries no value; expand items first", d.Name, item.ID)
		}
		return v, true, nil
	}
	return nil, false, nil
}

func cacheKey(d *Descriptor, param any, hasParam bool, resolved map[string]*instance) string {
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteString("|")
	if hasParam {
		fmt.Fprintf(&b, "%T:%v", param, param)
	}
	b.WriteString("|")
	deps := append([]string(nil), d.Requires...)
	sort.Strings(deps)
	for i, dep := range deps {
		if i > 0 {
			b.WriteString(",")
		}
		if inst, ok := resolved[dep]; ok {
			b.WriteString(inst.key)
		}
	}
	return b.String()
}

func (s *WorkerSession) instantiate(ctx context.Context, d *Descriptor, item Item, fn *frame, resolved map[string]*instance) (*instance, bool, error) {
	f := s.frameFor(d.Scope, fn)
	param, hasParam, err := paramFor(d, item)
	if err != nil {
		return nil, false, err
	}
	key := cacheKey(d, param, hasParam, resolved)

	if inst, ok := f.cache[key]; ok {
		s.emitSetup(SetupEvent{Fixture: d.Name, Scope: d.Scope, ScopeID: f.id, Item: item.ID,
			Param: param, Cached: true, Err: inst.err, Skip: inst.skip})
		if inst.err != nil {
			return nil, true, inst.err
		}
		return inst, true, nil
	}

	inst := &instance{desc: d, key: key, param: param}

	// Capability skips are not cached so a later Configure is honored.
	if skip := d.SkipReason(s.capabilities()); skip != nil {
		inst.skip = skip
		logging.Info("Fixture", "[%s] Skipping consumers of %s: %s", s.worker, d.Name, skip.Reason)
		s.emitSetup(SetupEvent{Fixture: d.Name, Scope: d.Scope, ScopeID: f.id, Item: item.ID, Param: param, Skip: skip})
		return inst, false, nil
	}

	f.cache[key] = inst
	req := &Request{
		desc:     d,
		item:     item,
		deps:     make(map[string]any, len(d.Requires)),
		param:    param,
		hasParam: hasParam,
		settings: s.settings,
	}
	for _, dep := range d.Requires {
		req.deps[dep] = resolved[dep].artifact
	}

	start := time.Now()
	artifact, err := s.runSetup(ctx, d, req)
	inst.finalizers = req.finalizers
	if err == nil && d.Teardown != nil {
		teardown := d.Teardown
		inst.finalizers = append(inst.finalizers, func(ctx context.Context, _ error) error {
			return teardown(ctx, artifact)
		})
	}
	// Failed instances still go on the stack so finalizers they
	// registered run at scope exit.
	f.stack = append(f.stack, inst)

	var skipErr *SkipDependents
	switch {
	case errors.As(err, &skipErr):
		inst.skip = skipErr.Skip
		if inst.skip == nil {
			inst.skip = &Skip{Reason: skipErr.Error()}
		}
		logging.Warn("Fixture", "[%s] %s asked to skip its consumers: %v", s.worker, d.Name, skipErr)
		s.emitSetup(SetupEvent{Fixture: d.Name, Scope: d.Scope, ScopeID: f.id, Item: item.ID,
			Param: param, Duration: time.Since(start), Skip: inst.skip})
		return inst, false, nil
	case err != nil:
		inst.err = err
		logging.Error("Fixture", err, "[%s] Setup of %s %s failed for %s", s.worker, d.Scope, d.Name, item.ID)
	default:
		inst.artifact = artifact
		logging.Debug("Fixture", "[%s] Set up %s %s in %s", s.worker, d.Scope, d.Name, time.Since(start))
	}
	s.emitSetup(SetupEvent{Fixture: d.Name, Scope: d.Scope, ScopeID: f.id, Item: item.ID,
		Param: param, Duration: time.Since(start), Err: err})
	if err != nil {
		return nil, false, err
	}
	return inst, false, nil
}

func (s *WorkerSession) runSetup(ctx context.Context, d *Descriptor, req *Request) (artifact any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in setup of %s: %v", d.Name, r)
		}
	}()
	return d.Setup(ctx, req)
}

func (s *WorkerSession) capabilities() Capabilities {
	if s.settings == nil {
		return nil
	}
	return s.settings
}

// teardownFrame pops the frame's stack and runs each instance's finalizers in
// reverse order, exactly once. ctx cancellation is ignored so that an
// interrupted run still releases everything.
func (s *WorkerSession) teardownFrame(ctx context.Context, f *frame, inflight error) []error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(f.stack) - 1; i >= 0; i-- {
		inst := f.stack[i]
		inst.torn.Do(func() {
			start := time.Now()
			var instErrs []error
			for j := len(inst.finalizers) - 1; j >= 0; j-- {
				if err := s.runFinalizer(ctx, inst, inst.finalizers[j], inflight); err != nil {
					terr := &FixtureTeardownError{Fixture: inst.desc.Name, Scope: inst.desc.Scope, Err: err}
					logging.Warn("Fixture", "[%s] %v", s.worker, terr)
					instErrs = append(instErrs, terr)
				}
			}
			errs = append(errs, instErrs...)
			if s.hooks.OnTeardown != nil {
				s.hooks.OnTeardown(TeardownEvent{Fixture: inst.desc.Name, Scope: inst.desc.Scope,
					ScopeID: f.id, Duration: time.Since(start), Err: errors.Join(instErrs...)})
			}
		})
	}
	f.stack = nil
	f.cache = make(map[string]*instance)
	return errs
}

func (s *WorkerSession) runFinalizer(ctx context.Context, inst *instance, fin Finalizer, inflight error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in teardown of %s: %v", inst.desc.Name, r)
		}
	}()
	return fin(ctx, inflight)
}

func (s *WorkerSession) emitSetup(e SetupEvent) {
	if s.hooks.OnSetup != nil {
		s.hooks.OnSetup(e)
	}
}
