package scope

import (
	"context"
	"testing"
	"time"

	"github.com/tripweave/tripweave/presence-go/internal/channel"
	"github.com/tripweave/tripweave/presence-go/internal/presence"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func enterSession(t *testing.T, b *channel.Broker, actorID, scopeID string) *Session {
	t.Helper()
	agg := presence.NewAggregator(time.Minute)
	s, err := Enter(context.Background(), agg, b.Channel(), presence.Record{
		ActorID: actorID,
		ScopeID: scopeID,
	}, Options{
		HeartbeatInterval: 50 * time.Millisecond,
		SweepInterval:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("enter %s: %v", actorID, err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func rosterHas(s *Session, actorID string) bool {
	for _, rec := range s.Roster() {
		if rec.ActorID == actorID {
			return true
		}
	}
	return false
}

func TestSessionsSeeEachOther(t *testing.T) {
	b := channel.NewBroker()
	a := enterSession(t, b, "user_a", "trip_42")
	c := enterSession(t, b, "user_b", "trip_42")

	waitFor(t, "user_b in a's roster", func() bool { return rosterHas(a, "user_b") })
	waitFor(t, "user_a in b's roster", func() bool { return rosterHas(c, "user_a") })
}

func TestEditLockAcrossSessions(t *testing.T) {
	b := channel.NewBroker()
	a := enterSession(t, b, "user_a", "trip_42")
	c := enterSession(t, b, "user_b", "trip_42")
	waitFor(t, "rosters to converge", func() bool {
		return rosterHas(a, "user_b") && rosterHas(c, "user_a")
	})

	ctx := context.Background()
	if d := a.StartEditing(ctx, "item_7"); !d.Allowed {
		t.Fatal("first editor should acquire the lock")
	}

	waitFor(t, "b to see a editing", func() bool {
		return len(c.EditorsOf("item_7")) == 1
	})
	if d := c.StartEditing(ctx, "item_7"); d.Allowed {
		t.Fatal("second editor must be denied after the roster synced")
	}

	a.StopEditing(ctx)
	waitFor(t, "b to see the lock release", func() bool {
		return len(c.EditorsOf("item_7")) == 0
	})
	if d := c.StartEditing(ctx, "item_7"); !d.Allowed {
		t.Error("edit should be allowed once the holder stopped")
	}
}

func TestCursorPropagationAndClear(t *testing.T) {
	b := channel.NewBroker()
	a := enterSession(t, b, "user_a", "trip_42")
	c := enterSession(t, b, "user_b", "trip_42")
	waitFor(t, "rosters to converge", func() bool {
		return rosterHas(a, "user_b") && rosterHas(c, "user_a")
	})

	a.SampleCursor(presence.Cursor{X: 0.3, Y: 0.7})
	waitFor(t, "b to see a's cursor", func() bool {
		for _, rec := range c.Roster() {
			if rec.ActorID == "user_a" && rec.Cursor != nil {
				return true
			}
		}
		return false
	})

	a.ClearCursor()
	waitFor(t, "b to see the cursor cleared", func() bool {
		for _, rec := range c.Roster() {
			if rec.ActorID == "user_a" {
				return rec.Cursor == nil
			}
		}
		return false
	})
}

func TestCloseReleasesEditLockAndLeaves(t *testing.T) {
	b := channel.NewBroker()
	a := enterSession(t, b, "user_a", "trip_42")
	c := enterSession(t, b, "user_b", "trip_42")
	waitFor(t, "rosters to converge", func() bool {
		return rosterHas(a, "user_b") && rosterHas(c, "user_a")
	})

	ctx := context.Background()
	a.StartEditing(ctx, "item_7")
	waitFor(t, "b to see a editing", func() bool {
		return len(c.EditorsOf("item_7")) == 1
	})

	// Scope exit: the tombstone must free the lock for everyone else.
	a.Close(ctx)
	waitFor(t, "a to vanish from b's roster", func() bool {
		return !rosterHas(c, "user_a")
	})
	if d := c.StartEditing(ctx, "item_7"); !d.Allowed {
		t.Error("closing a session must release its edit lock")
	}
}

func TestSetLocationAndSectionCounts(t *testing.T) {
	b := channel.NewBroker()
	a := enterSession(t, b, "user_a", "trip_42")
	c := enterSession(t, b, "user_b", "trip_42")
	waitFor(t, "rosters to converge", func() bool {
		return rosterHas(a, "user_b") && rosterHas(c, "user_a")
	})

	ctx := context.Background()
	a.SetLocation(ctx, "/trips/42/itinerary/day-2", "itinerary")

	sections := []presence.Section{{ID: "itinerary", PathPrefix: "/trips/42/itinerary"}}
	waitFor(t, "b's section count to include a", func() bool {
		return c.SectionCounts(sections)["itinerary"] == 1
	})
}

func TestHeartbeatReentersAfterSweep(t *testing.T) {
	b := channel.NewBroker()
	s := enterSession(t, b, "user_a", "trip_42")

	// Simulate a suspended process: the local sweep removed the record
	// before the next heartbeat fired.
	s.agg.Remove(s.ScopeID, s.ActorID)
	if _, ok := s.Self(); ok {
		t.Fatal("record should be gone after the sweep")
	}

	s.heartbeat(context.Background())
	self, ok := s.Self()
	if !ok {
		t.Fatal("heartbeat should re-enter the scope, not go silent")
	}
	if self.Status != presence.StatusOnline {
		t.Errorf("re-entered record should be online, got %s", self.Status)
	}
}

func TestAwayIsPropagatedAsHint(t *testing.T) {
	b := channel.NewBroker()
	a := enterSession(t, b, "user_a", "trip_42")
	c := enterSession(t, b, "user_b", "trip_42")
	waitFor(t, "rosters to converge", func() bool {
		return rosterHas(a, "user_b") && rosterHas(c, "user_a")
	})

	a.SetAway(context.Background())
	waitFor(t, "b to see a away", func() bool {
		for _, rec := range c.Roster() {
			if rec.ActorID == "user_a" {
				return rec.Status == presence.StatusAway
			}
		}
		return false
	})
}
