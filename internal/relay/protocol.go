package relay

import (
	"encoding/json"

	"github.com/tripweave/tripweave/presence-go/internal/focus"
	"github.com/tripweave/tripweave/presence-go/internal/presence"
)

// Message is the wire envelope for everything crossing a trip's WebSocket.
type Message struct {
	Type     string          `json:"type"`
	TripID   string          `json:"tripId,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	ActorID  string          `json:"actorId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

const (
	// Client -> server.
	TypePresenceUpdate = "presence.update"
	TypePresenceResync = "presence.resync"

	// Server -> client.
	TypeWelcome       = "welcome"
	TypePresenceState = "presence.state"
	TypePresenceJoin  = "presence.join"
	TypePresenceLeave = "presence.leave"
	TypeFocusStarted  = "focus.started"
	TypeFocusJoined   = "focus.joined"
	TypeFocusLeft     = "focus.left"
	TypeFocusEnded    = "focus.ended"
	TypeError         = "error"
)

// WelcomePayload tells a client its identity as seen by the relay.
type WelcomePayload struct {
	ClientID string `json:"clientId"`
	ActorID  string `json:"actorId"`
	TripID   string `json:"tripId"`
}

// StatePayload is a full roster snapshot, sent on join and on resync
// request. Missed deltas are never replayed; this snapshot is the whole
// recovery story.
type StatePayload struct {
	Records []presence.Record `json:"records"`
}

// JoinPayload announces a newly joined actor to the rest of the room.
type JoinPayload struct {
	Record presence.Record `json:"record"`
}

// LeavePayload is the tombstone for an actor that left the room.
type LeavePayload struct {
	ActorID string `json:"actorId"`
}

// FocusPayload carries a full session snapshot. Sessions are small enough
// that partial-patch semantics are not worth the complexity.
type FocusPayload struct {
	Session focus.Session `json:"session"`
}

// ErrorPayload reports a recoverable protocol-level problem to one client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
