package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/hdm"
	"github.com/muurk/hdmctl/internal/ledger"
	"github.com/muurk/hdmctl/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Events a stream may fall behind before transitions are dropped for it
	eventBuffer = 128
)

// Event types pushed over /ws/events
const (
	EventTransition = "transition"
	EventLedger     = "ledger"
)

// Event is one message on the event stream
type Event struct {
	Type       string          `json:"type"`
	Transition *hdm.Transition `json:"transition,omitempty"`
	Entry      *ledger.Entry   `json:"entry,omitempty"`
}

// eventHub receives state transitions from the client and fans them out
// to WebSocket streams. Observe never blocks the exchange that reports.
type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan hdm.Transition
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan hdm.Transition)}
}

// Observe implements hdm.Observer
func (h *eventHub) Observe(t hdm.Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (h *eventHub) subscribe() (<-chan hdm.Transition, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan hdm.Transition, eventBuffer)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleEvents streams transitions and ledger entries to one client
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade, while Shutdown still tracks the request
	s.wg.Add(1)
	defer s.wg.Done()

	// Subscribe before the handshake completes so the client sees every
	// event that follows it
	transitions, cancelTransitions := s.events.subscribe()
	defer cancelTransitions()
	entries, cancelEntries := s.ledger.Subscribe()
	defer cancelEntries()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client
		logging.Debug("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	remoteAddr := r.RemoteAddr
	logging.LogConnection("events", remoteAddr, "websocket_opened")
	defer func() {
		_ = conn.Close()
		logging.LogConnection("events", remoteAddr, "websocket_closed")
	}()

	// The read pump only serves control frames and notices the client leaving
	done := make(chan struct{})
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var ev Event
		select {
		case t := <-transitions:
			ev = Event{Type: EventTransition, Transition: &t}
		case e, ok := <-entries:
			if !ok {
				return
			}
			ev = Event{Type: EventLedger, Entry: &e}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		case <-done:
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"),
				time.Now().Add(writeWait))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			logging.Debug("Failed to write event",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
	}
}
