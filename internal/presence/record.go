package presence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor is a pointer position normalized to the scope container's bounding
// box at sample time.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Record is one actor's presence within one scope. Exactly one record exists
// per (actor, scope) pair in the aggregator; a newer record for the same key
// replaces the prior one, never duplicates it.
type Record struct {
	ActorID       string    `json:"actorId"`
	ScopeID       string    `json:"scopeId"`
	Status        Status    `json:"status"`
	DisplayName   string    `json:"displayName,omitempty"`
	AvatarRef     string    `json:"avatarRef,omitempty"`
	Cursor        *Cursor   `json:"cursor,omitempty"`
	EditingItemID string    `json:"editingItemId,omitempty"`
	PagePath      string    `json:"pagePath,omitempty"`
	SectionPath   string    `json:"sectionPath,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeatAt"`
}

// Delta is a partial update to the local actor's record. Nil fields are left
// untouched by Apply. Cursor and editing use explicit clear flags so that "no
// cursor" is published as a state, not inferred from silence.
type Delta struct {
	Status        *Status `json:"status,omitempty"`
	DisplayName   *string `json:"displayName,omitempty"`
	AvatarRef     *string `json:"avatarRef,omitempty"`
	Cursor        *Cursor `json:"cursor,omitempty"`
	ClearCursor   bool    `json:"clearCursor,omitempty"`
	EditingItemID *string `json:"editingItemId,omitempty"`
	PagePath      *string `json:"pagePath,omitempty"`
	SectionPath   *string `json:"sectionPath,omitempty"`
}

// Validate checks the record's internal invariants, most importantly that
// status is editing if and only if an editing item is set.
func (r *Record) Validate() error {
	if r.ActorID == "" {
		return fmt.Errorf("presence record missing actorId")
	}
	if r.ScopeID == "" {
		return fmt.Errorf("presence record missing scopeId")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid presence status %q", r.Status)
	}
	if (r.Status == StatusEditing) != (r.EditingItemID != "") {
		return fmt.Errorf("editing status and editingItemId out of sync for actor %s", r.ActorID)
	}
	return nil
}

// Stale reports whether the record's heartbeat is older than timeout at the
// given instant. Stale records are treated as absent by every reader even
// before a sweep physically removes them.
func (r *Record) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastHeartbeat) > timeout
}

// Apply merges a delta into the record and restamps the heartbeat. Status and
// editing item are reconciled so the editing invariant holds after every
// mutation: setting an item forces editing, clearing editing clears the item.
func (r *Record) Apply(d Delta, now time.Time) {
	if d.DisplayName != nil {
		r.DisplayName = *d.DisplayName
	}
	if d.AvatarRef != nil {
		r.AvatarRef = *d.AvatarRef
	}
	if d.ClearCursor {
		r.Cursor = nil
	} else if d.Cursor != nil {
		c := *d.Cursor
		r.Cursor = &c
	}
	if d.PagePath != nil {
		r.PagePath = *d.PagePath
	}
	if d.SectionPath != nil {
		r.SectionPath = *d.SectionPath
	}
	if d.EditingItemID != nil {
		r.EditingItemID = *d.EditingItemID
	}
	// An illegal status change is ignored, not an error: the rest of the
	// delta still lands and the heartbeat still counts.
	if d.Status != nil && CanTransition(r.Status, *d.Status) {
		r.Status = *d.Status
	}

	switch {
	case r.Status == StatusEditing && r.EditingItemID == "":
		// Editing without an item is meaningless; fall back to online.
		r.Status = StatusOnline
	case r.Status != StatusEditing:
		r.EditingItemID = ""
	}

	r.LastHeartbeat = now
}

// Clone returns a deep copy safe to hand outside the aggregator's lock.
func (r *Record) Clone() Record {
	out := *r
	if r.Cursor != nil {
		c := *r.Cursor
		out.Cursor = &c
	}
	return out
}

// DecodeRecord parses a wire record with a closed schema: unknown fields are
// rejected rather than passed through untyped.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("decode presence record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DecodeDelta parses a wire delta with the same closed-schema policy.
func DecodeDelta(data []byte) (Delta, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var d Delta
	if err := dec.Decode(&d); err != nil {
		return Delta{}, fmt.Errorf("decode presence delta: %w", err)
	}
	if d.Status != nil && !d.Status.Valid() {
		return Delta{}, fmt.Errorf("invalid presence status %q", *d.Status)
	}
	return d, nil
}
