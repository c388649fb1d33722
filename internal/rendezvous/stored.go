package rendezvous

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"

	"robottelo/internal/sharedfunc"
	"robottelo/pkg/logging"
)

const storedPoll = 100 * time.Millisecond

// Stored keeps arrival counters in shared storage so the barrier spans
// processes.
type Stored struct {
	name    string
	member  string
	parties int
	timeout time.Duration
	st      sharedfunc.Storage
	poll    time.Duration
}

// NewStored returns a storage-backed rendezvous. A non-positive timeout
// waits until the context ends.
func NewStored(name string, parties int, timeout time.Duration, st sharedfunc.Storage) *Stored {
	if parties < 1 {
		parties = 1
	}
	return &Stored{name: name, member: uuid.NewString(), parties: parties, timeout: timeout, st: st, poll: storedPoll}
}

func (r *Stored) Name() string { return r.name }

func (r *Stored) key(suffix string) string { return "rendezvous:" + r.name + ":" + suffix }

func (r *Stored) Enter(ctx context.Context) error { return r.arrive(ctx, "enter") }

func (r *Stored) Ready(ctx context.Context) error { return r.arrive(ctx, "ready") }

func (r *Stored) arrive(ctx context.Context, phase string) error {
	key := r.key(phase)
	n, err := r.st.Incr(ctx, key)
	if err != nil {
		return err
	}
	logging.Debug("Rendezvous", "%s %s: member %s arrived as %d/%d", r.name, phase, r.member, n, r.parties)

	timeout := r.timeout
	if timeout <= 0 {
		timeout = time.Duration(math.MaxInt64)
	}
	err = wait.PollUntilContextTimeout(ctx, r.poll, timeout, true, func(ctx context.Context) (bool, error) {
		raw, err := r.st.Get(ctx, key)
		if err != nil {
			if errors.Is(err, sharedfunc.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		count, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return false, err
		}
		return count >= int64(r.parties), nil
	})
	if err != nil && wait.Interrupted(err) && ctx.Err() == nil {
		return timeoutError(r.name, phase, r.parties, r.timeout)
	}
	return err
}

func (r *Stored) Lock(ctx context.Context) (func(), error) {
	key := r.key("lock")
	ttl := r.timeout
	if ttl <= 0 {
		ttl = time.Hour
	}
	for {
		ok, err := r.st.SetNX(ctx, key, []byte(r.member), ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := r.st.Delete(context.Background(), key); err != nil {
					logging.Warn("Rendezvous", "Failed to release lock %s: %v", key, err)
				}
			}, nil
		}
		if err := r.st.Wait(ctx, key); err != nil {
			return nil, err
		}
	}
}
