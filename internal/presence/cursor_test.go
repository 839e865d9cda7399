package presence

import (
	"testing"
	"time"
)

func newTestTracker(t *testing.T) (*Tracker, *[]Delta, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var published []Delta
	tr := NewTracker(50*time.Millisecond, func(d Delta) {
		published = append(published, d)
	})
	tr.now = func() time.Time { return now }
	return tr, &published, &now
}

func TestTrackerThrottlesAndCoalesces(t *testing.T) {
	tr, published, nowRef := newTestTracker(t)

	// First sample after the (zero) window publishes immediately.
	tr.Sample(Cursor{X: 0.1, Y: 0.1})
	if len(*published) != 1 {
		t.Fatalf("expected immediate publish, got %d", len(*published))
	}

	// A burst inside the window is coalesced to the latest sample.
	*nowRef = nowRef.Add(10 * time.Millisecond)
	tr.Sample(Cursor{X: 0.2, Y: 0.2})
	tr.Sample(Cursor{X: 0.3, Y: 0.3})
	tr.Sample(Cursor{X: 0.4, Y: 0.4})
	if len(*published) != 1 {
		t.Fatalf("burst should not publish inside the window, got %d", len(*published))
	}

	*nowRef = nowRef.Add(50 * time.Millisecond)
	if !tr.Flush() {
		t.Fatal("flush should publish the pending sample")
	}
	last := (*published)[len(*published)-1]
	if last.Cursor == nil || last.Cursor.X != 0.4 {
		t.Errorf("expected latest sample only, got %+v", last.Cursor)
	}

	if tr.Flush() {
		t.Error("second flush with nothing pending should be a no-op")
	}
}

func TestTrackerClearPublishesExplicitState(t *testing.T) {
	tr, published, nowRef := newTestTracker(t)

	tr.Sample(Cursor{X: 0.5, Y: 0.5})
	*nowRef = nowRef.Add(10 * time.Millisecond)
	tr.Sample(Cursor{X: 0.6, Y: 0.6}) // pending

	tr.Clear()
	last := (*published)[len(*published)-1]
	if !last.ClearCursor {
		t.Error("clear must publish an explicit no-cursor delta")
	}
	if tr.Flush() {
		t.Error("clear must drop the pending sample")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name          string
		x, y, w, h    float64
		wantX, wantY  float64
	}{
		{"center", 50, 100, 100, 200, 0.5, 0.5},
		{"clamped below", -10, -10, 100, 100, 0, 0},
		{"clamped above", 150, 260, 100, 200, 1, 1},
		{"degenerate box", 10, 10, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.x, tt.y, tt.w, tt.h)
			if got.X != tt.wantX || got.Y != tt.wantY {
				t.Errorf("Normalize = %+v, want (%v, %v)", got, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestSectionCounts(t *testing.T) {
	roster := []Record{
		{ActorID: "a", PagePath: "/trips/42/itinerary"},
		{ActorID: "b", PagePath: "/trips/42/itinerary/day-3"},
		{ActorID: "c", PagePath: "/trips/42/budget"},
		{ActorID: "d", PagePath: ""},
	}
	sections := []Section{
		{ID: "itinerary", PathPrefix: "/trips/42/itinerary"},
		{ID: "budget", PathPrefix: "/trips/42/budget"},
		{ID: "packing", PathPrefix: "/trips/42/packing"},
	}

	counts := SectionCounts(roster, sections)
	if counts["itinerary"] != 2 {
		t.Errorf("nested routes must count toward the parent section, got %d", counts["itinerary"])
	}
	if counts["budget"] != 1 {
		t.Errorf("budget = %d, want 1", counts["budget"])
	}
	if counts["packing"] != 0 {
		t.Errorf("packing = %d, want 0", counts["packing"])
	}
}
