package fixture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robottelo/internal/rendezvous"
)

func TestSharedWaitsForPeersBeforeTeardown(t *testing.T) {
	tr := &trace{}
	factory := rendezvous.NewFactory(2, 2*time.Second, nil)
	reg := NewRegistry("suite")
	reg.MustRegister(Shared(traced(tr, "upgraded_sat", Module), factory.Get, SharedOptions{Exclusive: true}))

	d, ok := reg.Lookup("upgraded_sat")
	require.True(t, ok)
	assert.Equal(t, Session, d.Scope)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i, delay := range []time.Duration{0, 50 * time.Millisecond} {
		wg.Add(1)
		go func(worker int, delay time.Duration) {
			defer wg.Done()
			sess := NewWorkerSession(reg)
			res, err := sess.Resolve(ctx, Item{ID: "test_after_upgrade", Fixtures: []string{"upgraded_sat"}})
			if !assert.NoError(t, err) {
				return
			}
			time.Sleep(delay)
			tr.add("test %d done", worker)
			res.Finish(ctx, nil)
			assert.Empty(t, sess.Close(ctx))
		}(i, delay)
	}
	wg.Wait()

	events := tr.take()
	require.Len(t, events, 6)
	lastTest := -1
	firstTeardown := len(events)
	for i, e := range events {
		switch e {
		case "test 0 done", "test 1 done":
			lastTest = i
		case "teardown upgraded_sat":
			if i < firstTeardown {
				firstTeardown = i
			}
		}
	}
	assert.Less(t, lastTest, firstTeardown, "no teardown before every peer finished: %v", events)
}

func TestSharedTimeoutSkipsConsumers(t *testing.T) {
	factory := rendezvous.NewFactory(2, 30*time.Millisecond, nil)
	ran := false
	reg := NewRegistry("suite")
	reg.MustRegister(
		Shared(Descriptor{
			Name:  "upgraded_sat",
			Scope: Session,
			Setup: func(context.Context, *Request) (any, error) {
				ran = true
				return "sat", nil
			},
		}, factory.Get, SharedOptions{}),
	)

	res, err := NewWorkerSession(reg).Resolve(context.Background(), Item{ID: "t", Fixtures: []string{"upgraded_sat"}})
	require.NoError(t, err)
	require.NotNil(t, res.Skip)
	assert.Contains(t, res.Skip.Reason, "did not arrive")
	assert.False(t, ran)
}

func TestPrepareSetsUpOnlySharedFixtures(t *testing.T) {
	tr := &trace{}
	factory := rendezvous.NewFactory(1, time.Second, nil)
	reg := NewRegistry("suite")
	reg.MustRegister(
		Shared(traced(tr, "upgraded_sat", Session), factory.Get, SharedOptions{}),
		traced(tr, "module_org", Module, "upgraded_sat"),
		traced(tr, "function_host", Function, "module_org"),
	)

	ctx := context.Background()
	sess := NewWorkerSession(reg)
	item := Item{ID: "t", Module: "m", Fixtures: []string{"function_host"}}

	assert.Empty(t, sess.Prepare(ctx, item))
	assert.Equal(t, []string{"setup upgraded_sat"}, tr.take())

	res, err := sess.Resolve(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, []string{"setup module_org", "setup function_host"}, tr.take(), "the shared fixture came from the session cache")
	res.Finish(ctx, nil)
	assert.Empty(t, sess.Close(ctx))
}
