package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"ghreward/core/events"
	"ghreward/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsSubscriberSize = 256
)

// EventHub fans committed ledger events out to websocket subscribers.
// Subscribers that fall behind lose events rather than stall the ledger.
type EventHub struct {
	mu     sync.Mutex
	subs   map[chan types.Event]struct{}
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan types.Event]struct{})}
}

// Emit implements events.Emitter.
func (h *EventHub) Emit(evt events.Event) {
	typed, ok := evt.(events.Typed)
	if !ok {
		return
	}
	rendered := typed.Event()
	if rendered == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- *rendered:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned cancel func must be
// called once the caller stops reading.
func (h *EventHub) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, wsSubscriberSize)
	h.mu.Lock()
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	// Subscribe before the handshake completes so no event committed after
	// the client connects is missed.
	updates, cancel := s.hub.Subscribe()
	defer cancel()
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.WSOriginPatterns}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan types.Event, prefix string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if prefix != "" && !strings.HasPrefix(evt.Type, prefix) {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
