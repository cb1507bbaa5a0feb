package registry

import (
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func TestRegisterOverwritesState(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	r := New(logger)

	r.Register("c1", "")
	r.AddSubscription("c1", "stream:s1")

	// Joining an org re-registers; subscriptions reset.
	r.Register("c1", "org-1")

	state, ok := r.Get("c1")
	if !ok {
		t.Fatalf("expected state for c1")
	}
	if state.OrgID != "org-1" {
		t.Fatalf("expected org-1, got %q", state.OrgID)
	}
	if len(state.Subscriptions) != 0 {
		t.Fatalf("expected empty subscriptions after overwrite, got %v", state.Subscriptions)
	}
}

func TestDeregisterUnknownIsNoOp(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	var events []Event
	r := New(logger, WithEventSink(func(e Event) { events = append(events, e) }))

	r.Deregister("ghost")

	if len(events) != 0 {
		t.Fatalf("expected no events for unknown deregister, got %v", events)
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestLifecycleEvents(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	var events []Event
	r := New(logger, WithEventSink(func(e Event) { events = append(events, e) }))

	r.Register("c1", "org-1")
	r.Deregister("c1")

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventConnected || events[0].OrgID != "org-1" {
		t.Fatalf("unexpected connected event: %+v", events[0])
	}
	if events[1].Type != EventDisconnected || events[1].OrgID != "org-1" {
		t.Fatalf("disconnected event should carry previous org: %+v", events[1])
	}
}

func TestListByOrg(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	r := New(logger)

	r.Register("c1", "org-1")
	r.Register("c2", "org-1")
	r.Register("c3", "org-2")

	ids := r.ListByOrg("org-1")
	if len(ids) != 2 {
		t.Fatalf("expected 2 connections for org-1, got %v", ids)
	}
	for _, id := range ids {
		if id != "c1" && id != "c2" {
			t.Fatalf("unexpected connection id %q", id)
		}
	}
}

func TestSubscriptionsBestEffort(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	r := New(logger)

	// Unknown connection: both are no-ops, no panic.
	r.AddSubscription("ghost", "stream:s1")
	r.RemoveSubscription("ghost", "stream:s1")

	r.Register("c1", "org-1")
	r.AddSubscription("c1", "stream:s1")
	r.AddSubscription("c1", "stream:s2")
	r.RemoveSubscription("c1", "stream:s1")

	state, _ := r.Get("c1")
	if len(state.Subscriptions) != 1 || !state.Subscriptions["stream:s2"] {
		t.Fatalf("unexpected subscriptions: %v", state.Subscriptions)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	r := New(logger)

	r.Register("c1", "org-1")
	state, _ := r.Get("c1")
	state.Subscriptions["stream:leak"] = true

	fresh, _ := r.Get("c1")
	if len(fresh.Subscriptions) != 0 {
		t.Fatalf("mutating a snapshot must not affect registry state")
	}
}

func TestListStale(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	current := time.Now()
	r := New(logger, WithClock(func() time.Time { return current }))

	r.Register("old", "org-1")
	current = current.Add(10 * time.Minute)
	r.Register("fresh", "org-1")

	stale := r.ListStale(5 * time.Minute)
	if len(stale) != 1 || stale[0] != "old" {
		t.Fatalf("expected only old connection stale, got %v", stale)
	}

	// Touch revives the stale connection.
	r.Touch("old")
	if got := r.ListStale(5 * time.Minute); len(got) != 0 {
		t.Fatalf("expected no stale connections after touch, got %v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	r := New(logger)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				r.Register(id, "org-1")
				r.Touch(id)
				r.AddSubscription(id, "stream:s1")
				r.Get(id)
				r.ListByOrg("org-1")
				r.Deregister(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Fatalf("expected empty registry after concurrent churn, got %d", r.Count())
	}
}
