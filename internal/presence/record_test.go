package presence

import (
	"testing"
	"time"
)

func newTestRecord() Record {
	return Record{
		ActorID:       "user_a",
		ScopeID:       "trip_1",
		Status:        StatusOnline,
		LastHeartbeat: time.Now(),
	}
}

func TestApplyKeepsEditingInvariant(t *testing.T) {
	rec := newTestRecord()
	now := time.Now()

	// Setting an editing item moves status to editing.
	editing := StatusEditing
	item := "item_7"
	rec.Apply(Delta{Status: &editing, EditingItemID: &item}, now)
	if rec.Status != StatusEditing || rec.EditingItemID != "item_7" {
		t.Fatalf("expected editing item_7, got %s %q", rec.Status, rec.EditingItemID)
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("record invalid after edit start: %v", err)
	}

	// Leaving editing clears the item even when the delta forgets to.
	online := StatusOnline
	rec.Apply(Delta{Status: &online}, now)
	if rec.EditingItemID != "" {
		t.Errorf("editingItemId should clear when status leaves editing, got %q", rec.EditingItemID)
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("record invalid after edit stop: %v", err)
	}

	// Editing without an item is rejected back to online.
	rec.Apply(Delta{Status: &editing}, now)
	if rec.Status != StatusOnline {
		t.Errorf("editing without item should fall back to online, got %s", rec.Status)
	}
}

func TestApplyRejectsIllegalTransition(t *testing.T) {
	rec := newTestRecord()
	now := time.Now()

	editing := StatusEditing
	item := "item_7"
	rec.Apply(Delta{Status: &editing, EditingItemID: &item}, now)

	// Away only applies to an online actor; an editing actor keeps its lock.
	away := StatusAway
	path := "/trips/t1/itinerary"
	later := now.Add(time.Second)
	rec.Apply(Delta{Status: &away, PagePath: &path}, later)
	if rec.Status != StatusEditing || rec.EditingItemID != "item_7" {
		t.Errorf("away from editing should be ignored, got %s %q", rec.Status, rec.EditingItemID)
	}
	if rec.PagePath != path {
		t.Errorf("rest of the delta should still land, got pagePath %q", rec.PagePath)
	}
	if !rec.LastHeartbeat.Equal(later) {
		t.Error("heartbeat should restamp even when the status change is dropped")
	}
}

func TestApplyClearCursor(t *testing.T) {
	rec := newTestRecord()
	now := time.Now()

	rec.Apply(Delta{Cursor: &Cursor{X: 0.5, Y: 0.25}}, now)
	if rec.Cursor == nil {
		t.Fatal("cursor should be set")
	}

	rec.Apply(Delta{ClearCursor: true}, now)
	if rec.Cursor != nil {
		t.Error("cursor should be cleared, not left at the stale position")
	}
}

func TestApplyRestampsHeartbeat(t *testing.T) {
	rec := newTestRecord()
	later := rec.LastHeartbeat.Add(time.Minute)
	rec.Apply(Delta{}, later)
	if !rec.LastHeartbeat.Equal(later) {
		t.Errorf("heartbeat not restamped: %v", rec.LastHeartbeat)
	}
}

func TestDecodeRecordRejectsUnknownFields(t *testing.T) {
	data := []byte(`{"actorId":"user_a","scopeId":"trip_1","status":"online","lastHeartbeatAt":"2026-01-02T15:04:05Z","mystery":"field"}`)
	if _, err := DecodeRecord(data); err == nil {
		t.Error("unknown fields should be rejected, not passed through")
	}
}

func TestDecodeRecordValidates(t *testing.T) {
	data := []byte(`{"actorId":"user_a","scopeId":"trip_1","status":"editing","lastHeartbeatAt":"2026-01-02T15:04:05Z"}`)
	if _, err := DecodeRecord(data); err == nil {
		t.Error("editing record without editingItemId should fail validation")
	}
}

func TestDecodeDeltaRejectsBadStatus(t *testing.T) {
	if _, err := DecodeDelta([]byte(`{"status":"busy"}`)); err == nil {
		t.Error("unknown status should be rejected")
	}
}
