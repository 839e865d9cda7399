// Package relay is the concrete broadcast medium behind the presence
// channel: a WebSocket fan-out hub with one room per trip. The hub owns the
// server-side roster, stamps heartbeats on every inbound update, and sweeps
// records whose clients went silent without a tombstone.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tripweave/tripweave/presence-go/internal/focus"
	"github.com/tripweave/tripweave/presence-go/internal/presence"
)

const defaultSweepInterval = 15 * time.Second

type Room struct {
	tripID  string
	clients map[string]*Client // clientID -> client
}

func NewRoom(tripID string) *Room {
	return &Room{
		tripID:  tripID,
		clients: make(map[string]*Client),
	}
}

type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room // tripID -> room
	roster     *presence.Aggregator
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	sweepEvery time.Duration
}

func NewHub(roster *presence.Aggregator, sweepEvery time.Duration) *Hub {
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepInterval
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		roster:     roster,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		sweepEvery: sweepEvery,
	}
}

func (h *Hub) Run() {
	sweep := time.NewTicker(h.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case now := <-sweep.C:
			h.sweepStale(now)
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.TripID]
	if !ok {
		room = NewRoom(client.TripID)
		h.rooms[client.TripID] = room
	}
	room.clients[client.ClientID] = client
	h.mu.Unlock()

	rec, err := h.roster.Enter(presence.Record{
		ActorID:     client.ActorID,
		ScopeID:     client.TripID,
		Status:      presence.StatusOnline,
		DisplayName: client.DisplayName,
		AvatarRef:   client.AvatarRef,
	})
	if err != nil {
		slog.Error("enter roster", "error", err, "actor", client.ActorID)
		return
	}

	welcome, _ := json.Marshal(WelcomePayload{
		ClientID: client.ClientID,
		ActorID:  client.ActorID,
		TripID:   client.TripID,
	})
	client.Send(&Message{Type: TypeWelcome, Payload: welcome})

	h.sendState(client)

	joinPayload, _ := json.Marshal(JoinPayload{Record: rec})
	h.broadcastToRoom(client.TripID, &Message{
		Type:    TypePresenceJoin,
		ActorID: client.ActorID,
		Payload: joinPayload,
	}, client.ClientID)

	slog.Info("client joined", "actor", client.ActorID, "trip", client.TripID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.TripID]
	if !ok {
		h.mu.Unlock()
		return
	}

	delete(room.clients, client.ClientID)
	client.closeSend()

	if len(room.clients) == 0 {
		delete(h.rooms, client.TripID)
	}
	h.mu.Unlock()

	// Even an ungraceful drop gets an explicit tombstone to the survivors;
	// the sweep only backstops crashes of the hub's own bookkeeping.
	h.roster.Remove(client.TripID, client.ActorID)

	leavePayload, _ := json.Marshal(LeavePayload{ActorID: client.ActorID})
	h.broadcastToRoom(client.TripID, &Message{
		Type:    TypePresenceLeave,
		ActorID: client.ActorID,
		Payload: leavePayload,
	}, "")

	slog.Info("client left", "actor", client.ActorID, "trip", client.TripID)
}

func (h *Hub) sweepStale(now time.Time) {
	for _, rec := range h.roster.SweepStale(now) {
		leavePayload, _ := json.Marshal(LeavePayload{ActorID: rec.ActorID})
		h.broadcastToRoom(rec.ScopeID, &Message{
			Type:    TypePresenceLeave,
			ActorID: rec.ActorID,
			Payload: leavePayload,
		}, "")
		slog.Info("swept stale presence", "actor", rec.ActorID, "trip", rec.ScopeID)
	}
}

func (h *Hub) handleMessage(sender *Client, msg *Message) {
	switch msg.Type {
	case TypePresenceUpdate:
		h.handlePresenceUpdate(sender, msg)
	case TypePresenceResync:
		h.sendState(sender)
	default:
		slog.Warn("unknown message type", "type", msg.Type, "actor", sender.ActorID)
	}
}

func (h *Hub) handlePresenceUpdate(sender *Client, msg *Message) {
	delta, err := presence.DecodeDelta(msg.Payload)
	if err != nil {
		slog.Warn("invalid presence delta", "error", err, "actor", sender.ActorID)
		errPayload, _ := json.Marshal(ErrorPayload{Code: "bad_delta", Message: err.Error()})
		sender.Send(&Message{Type: TypeError, Payload: errPayload})
		return
	}

	// Identity fields are the hub's to set, not the client's.
	delta.DisplayName = nil
	delta.AvatarRef = nil

	rec, ok := h.roster.ApplyLocalChange(sender.TripID, sender.ActorID, delta)
	if !ok {
		// The sweep removed this actor while the client went silent (laptop
		// sleep, another tab leaving). A resumed update is a fresh heartbeat,
		// so it re-establishes the record instead of being dropped forever.
		if _, err := h.roster.Enter(presence.Record{
			ActorID:     sender.ActorID,
			ScopeID:     sender.TripID,
			Status:      presence.StatusOnline,
			DisplayName: sender.DisplayName,
			AvatarRef:   sender.AvatarRef,
		}); err != nil {
			slog.Error("re-enter roster", "error", err, "actor", sender.ActorID)
			return
		}
		rec, ok = h.roster.ApplyLocalChange(sender.TripID, sender.ActorID, delta)
		if !ok {
			return
		}
	}

	outPayload, _ := json.Marshal(rec)
	h.broadcastToRoom(sender.TripID, &Message{
		Type:    TypePresenceUpdate,
		ActorID: sender.ActorID,
		Payload: outPayload,
	}, sender.ClientID)
}

// BroadcastFocus fans a session snapshot out to every client in the trip's
// room, the sender included, so all views converge on the same snapshot.
func (h *Hub) BroadcastFocus(event string, sess focus.Session) {
	payload, err := json.Marshal(FocusPayload{Session: sess})
	if err != nil {
		slog.Error("marshal focus payload", "error", err)
		return
	}
	h.broadcastToRoom(sess.TripID, &Message{
		Type:    "focus." + event,
		TripID:  sess.TripID,
		Payload: payload,
	}, "")
}

func (h *Hub) sendState(client *Client) {
	payload, err := json.Marshal(StatePayload{Records: h.roster.RosterFor(client.TripID)})
	if err != nil {
		slog.Error("marshal presence state", "error", err)
		return
	}
	client.Send(&Message{Type: TypePresenceState, TripID: client.TripID, Payload: payload})
}

func (h *Hub) broadcastToRoom(tripID string, msg *Message, excludeClientID string) {
	h.mu.RLock()
	room, ok := h.rooms[tripID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		if c.ClientID != excludeClientID {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(msg)
	}
}
