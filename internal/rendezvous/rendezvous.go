package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"robottelo/internal/sharedfunc"
	"robottelo/pkg/logging"
)

// ErrTimeout is returned when peers do not arrive in time.
var ErrTimeout = errors.New("rendezvous timed out")

// Rendezvous is a named two-phase barrier with an exclusive lock.
type Rendezvous interface {
	Name() string
	// Enter blocks until every party entered.
	Enter(ctx context.Context) error
	// Ready blocks until every party is ready for teardown.
	Ready(ctx context.Context) error
	// Lock acquires exclusive access and returns its release function.
	Lock(ctx context.Context) (func(), error)
}

func timeoutError(name, phase string, parties int, timeout time.Duration) error {
	return fmt.Errorf("%w: %s %s: %d parties did not arrive within %s", ErrTimeout, name, phase, parties, timeout)
}

type memberKey struct{}

// WithMember names the party that calls Enter and Ready with ctx.
func WithMember(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, memberKey{}, name)
}

// memberOf returns the caller's name, or a fresh one for anonymous callers
// so that each anonymous arrival counts once.
func memberOf(ctx context.Context) string {
	if name, ok := ctx.Value(memberKey{}).(string); ok && name != "" {
		return name
	}
	return "anonymous-" + uuid.NewString()
}

// barrier closes done once enough members arrived.
type barrier struct {
	arrived map[string]bool
	done    chan struct{}
	closed  bool
}

func newBarrier() *barrier {
	return &barrier{arrived: make(map[string]bool), done: make(chan struct{})}
}

// presence is the set of members with no work left. It is shared by every
// Local of a Factory.
type presence struct {
	mu   sync.Mutex
	away map[string]bool
}

func (p *presence) snapshot() map[string]bool {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.away))
	for m := range p.away {
		out[m] = true
	}
	return out
}

// Local synchronizes goroutines of this process.
type Local struct {
	name     string
	parties  int
	timeout  time.Duration
	presence *presence

	mu    sync.Mutex
	enter *barrier
	ready *barrier
	lock  chan struct{}
}

// NewLocal returns a rendezvous for parties goroutines. A non-positive
// timeout waits until the context ends.
func NewLocal(name string, parties int, timeout time.Duration) *Local {
	if parties < 1 {
		parties = 1
	}
	return &Local{
		name:    name,
		parties: parties,
		timeout: timeout,
		enter:   newBarrier(),
		ready:   newBarrier(),
		lock:    make(chan struct{}, 1),
	}
}

func (r *Local) Name() string { return r.name }

func (r *Local) Enter(ctx context.Context) error { return r.arrive(ctx, r.enter, "enter") }

func (r *Local) Ready(ctx context.Context) error { return r.arrive(ctx, r.ready, "ready") }

// check closes b when arrivals plus away members that never entered reach
// parties. r.mu must be held.
func (r *Local) check(b *barrier, away map[string]bool) {
	if b.closed {
		return
	}
	n := len(b.arrived)
	for m := range away {
		if !b.arrived[m] && !r.enter.arrived[m] {
			n++
		}
	}
	if n >= r.parties {
		b.closed = true
		close(b.done)
	}
}

// recheck is called when a member departs.
func (r *Local) recheck() {
	away := r.presence.snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.check(r.enter, away)
	r.check(r.ready, away)
}

func (r *Local) arrive(ctx context.Context, b *barrier, phase string) error {
	member := memberOf(ctx)
	away := r.presence.snapshot()
	r.mu.Lock()
	b.arrived[member] = true
	n := len(b.arrived)
	r.check(b, away)
	r.mu.Unlock()
	logging.Debug("Rendezvous", "%s %s: %s arrived, %d/%d", r.name, phase, member, n, r.parties)

	var expired <-chan time.Time
	if r.timeout > 0 {
		t := time.NewTimer(r.timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-b.done:
		return nil
	case <-expired:
		return timeoutError(r.name, phase, r.parties, r.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Local) Lock(ctx context.Context) (func(), error) {
	select {
	case r.lock <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-r.lock }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Factory hands out one rendezvous per name so every worker that asks for
// the same name gets the same barrier.
type Factory struct {
	parties  int
	timeout  time.Duration
	storage  sharedfunc.Storage
	presence *presence

	mu     sync.Mutex
	byID   map[string]Rendezvous
	locals []*Local
}

// NewFactory builds local rendezvous when storage is nil and stored ones
// otherwise.
func NewFactory(parties int, timeout time.Duration, storage sharedfunc.Storage) *Factory {
	return &Factory{
		parties:  parties,
		timeout:  timeout,
		storage:  storage,
		presence: &presence{away: make(map[string]bool)},
		byID:     make(map[string]Rendezvous),
	}
}

// Get returns the rendezvous for name.
func (f *Factory) Get(name string) (Rendezvous, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rv, ok := f.byID[name]; ok {
		return rv, nil
	}
	var rv Rendezvous
	if f.storage == nil {
		local := NewLocal(name, f.parties, f.timeout)
		local.presence = f.presence
		f.locals = append(f.locals, local)
		rv = local
	} else {
		rv = NewStored(name, f.parties, f.timeout, f.storage)
	}
	f.byID[name] = rv
	return rv, nil
}

// Depart marks member as having no work left. Local barriers stop waiting
// for it unless it already entered.
func (f *Factory) Depart(member string) {
	f.presence.mu.Lock()
	f.presence.away[member] = true
	f.presence.mu.Unlock()

	f.mu.Lock()
	locals := append([]*Local(nil), f.locals...)
	f.mu.Unlock()
	for _, l := range locals {
		l.recheck()
	}
}

// Rejoin undoes Depart for member. Barriers that already opened stay open.
func (f *Factory) Rejoin(member string) {
	f.presence.mu.Lock()
	defer f.presence.mu.Unlock()
	delete(f.presence.away, member)
}
