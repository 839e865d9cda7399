package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tripweave/tripweave/presence-go/internal/focus"
	"github.com/tripweave/tripweave/presence-go/internal/presence"
	"github.com/tripweave/tripweave/presence-go/internal/relay"
)

const (
	dialTimeout    = 10 * time.Second
	publishTimeout = 5 * time.Second
	minBackoff     = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// WSChannel is the relay-backed Channel: it dials the hub's WebSocket
// endpoint for one trip and translates the relay protocol into events. A
// dropped connection is retried with capped exponential backoff; the hub
// sends a full roster snapshot on every (re)join, which stands in for the
// deltas missed while away.
type WSChannel struct {
	baseURL string
	token   string

	// FocusHandler, when set, receives focus.* broadcasts riding the same
	// socket. Presence consumers can ignore it.
	FocusHandler func(event string, s focus.Session)

	events chan Event
	states chan ConnectionState

	mu     sync.Mutex
	conn   *websocket.Conn
	local  presence.Record
	joined bool
	closed bool
	cancel context.CancelFunc
}

func NewWebSocket(baseURL, token string) *WSChannel {
	return &WSChannel{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		events:  make(chan Event, eventBuffer),
		states:  make(chan ConnectionState, 4),
	}
}

func (w *WSChannel) Join(ctx context.Context, local presence.Record) error {
	if local.Status == "" {
		local.Status = presence.StatusOnline
	}
	if local.LastHeartbeat.IsZero() {
		local.LastHeartbeat = time.Now()
	}
	if err := local.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.joined {
		w.mu.Unlock()
		return errors.New("channel already joined")
	}
	w.local = local
	w.joined = true
	w.mu.Unlock()

	w.pushState(StateConnecting)
	conn, err := w.dial(ctx)
	if err != nil {
		w.pushState(StateError)
		w.mu.Lock()
		w.joined = false
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.conn = conn
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	w.pushState(StateConnected)
	go w.run(runCtx)
	return nil
}

func (w *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s/ws/trip/%s?token=%s", w.baseURL, w.local.ScopeID, url.QueryEscape(w.token))

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

// run owns the read loop and the reconnect cycle.
func (w *WSChannel) run(ctx context.Context) {
	backoff := minBackoff
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		err := w.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		slog.Debug("relay connection lost", "scope", w.local.ScopeID, "error", err)
		w.pushState(StateDisconnected)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			w.pushState(StateConnecting)
			conn, err = w.dial(ctx)
			if err == nil {
				break
			}
			w.pushState(StateError)
			backoff = min(backoff*2, maxBackoff)
		}
		backoff = minBackoff

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.pushState(StateConnected)
		// The hub replies to the fresh join with a full presence.state
		// snapshot; no replay of missed deltas exists or is needed.
	}
}

func (w *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg relay.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid relay message", "error", err)
			continue
		}
		w.handleMessage(&msg)
	}
}

func (w *WSChannel) handleMessage(msg *relay.Message) {
	switch {
	case msg.Type == relay.TypePresenceState:
		var state relay.StatePayload
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			slog.Warn("invalid presence state", "error", err)
			return
		}
		for i := range state.Records {
			rec := state.Records[i]
			if rec.ActorID == w.local.ActorID {
				continue
			}
			w.deliver(Event{ScopeID: rec.ScopeID, ActorID: rec.ActorID, Record: &rec})
		}

	case msg.Type == relay.TypePresenceJoin:
		var join relay.JoinPayload
		if err := json.Unmarshal(msg.Payload, &join); err != nil {
			slog.Warn("invalid presence join", "error", err)
			return
		}
		rec := join.Record
		w.deliver(Event{ScopeID: rec.ScopeID, ActorID: rec.ActorID, Record: &rec})

	case msg.Type == relay.TypePresenceUpdate:
		rec, err := presence.DecodeRecord(msg.Payload)
		if err != nil {
			slog.Warn("invalid presence update", "error", err)
			return
		}
		w.deliver(Event{ScopeID: rec.ScopeID, ActorID: rec.ActorID, Record: &rec})

	case msg.Type == relay.TypePresenceLeave:
		var leave relay.LeavePayload
		if err := json.Unmarshal(msg.Payload, &leave); err != nil {
			slog.Warn("invalid presence leave", "error", err)
			return
		}
		w.deliver(Event{ScopeID: w.local.ScopeID, ActorID: leave.ActorID, Record: nil})

	case strings.HasPrefix(msg.Type, "focus."):
		if w.FocusHandler == nil {
			return
		}
		var fp relay.FocusPayload
		if err := json.Unmarshal(msg.Payload, &fp); err != nil {
			slog.Warn("invalid focus payload", "error", err)
			return
		}
		w.FocusHandler(strings.TrimPrefix(msg.Type, "focus."), fp.Session)

	case msg.Type == relay.TypeWelcome, msg.Type == relay.TypeError:
		// Welcome is informational; protocol errors are logged and life
		// goes on, presence being best-effort.
		if msg.Type == relay.TypeError {
			slog.Warn("relay error message", "payload", string(msg.Payload))
		}

	default:
		slog.Warn("unknown relay message type", "type", msg.Type)
	}
}

func (w *WSChannel) Publish(ctx context.Context, delta presence.Delta) {
	w.mu.Lock()
	conn := w.conn
	closed := w.closed
	w.mu.Unlock()
	if conn == nil || closed {
		return
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		slog.Error("marshal presence delta", "error", err)
		return
	}
	data, err := json.Marshal(relay.Message{Type: relay.TypePresenceUpdate, Payload: payload})
	if err != nil {
		slog.Error("marshal relay message", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		// Fire-and-forget: the read loop notices the broken connection and
		// reconnects; the publish is simply lost.
		slog.Debug("publish failed", "error", err, "scope", w.local.ScopeID)
	}
}

func (w *WSChannel) Events() <-chan Event { return w.events }

func (w *WSChannel) States() <-chan ConnectionState { return w.states }

func (w *WSChannel) Leave(_ context.Context) error {
	w.mu.Lock()
	if !w.joined {
		w.mu.Unlock()
		return errNotJoined
	}
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		// A normal close is the explicit offline signal; the hub turns it
		// into a tombstone broadcast for the rest of the room.
		conn.Close(websocket.StatusNormalClosure, "leaving")
	}

	w.mu.Lock()
	close(w.events)
	close(w.states)
	w.mu.Unlock()
	return nil
}

func (w *WSChannel) deliver(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		slog.Warn("presence event buffer full, dropping", "scope", ev.ScopeID, "actor", ev.ActorID)
	}
}

func (w *WSChannel) pushState(s ConnectionState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.states <- s:
	default:
	}
}
